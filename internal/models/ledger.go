package models

import "time"

// TriggerKind identifies why a reward is granted
type TriggerKind string

const (
	TriggerDailyLogin            TriggerKind = "DAILY_LOGIN"
	TriggerWeeklyActive          TriggerKind = "WEEKLY_ACTIVE"
	TriggerContentCreation       TriggerKind = "CONTENT_CREATION"
	TriggerComment               TriggerKind = "COMMENT"
	TriggerLikeReceived          TriggerKind = "LIKE_RECEIVED"
	TriggerShare                 TriggerKind = "SHARE"
	TriggerCulturalExchange      TriggerKind = "CULTURAL_EXCHANGE"
	TriggerExchangeParticipation TriggerKind = "EXCHANGE_PARTICIPATION"
	TriggerLanguageExchange      TriggerKind = "LANGUAGE_EXCHANGE"
	TriggerLearningReward        TriggerKind = "LEARNING_REWARD"
	TriggerVoiceTranslation      TriggerKind = "VOICE_TRANSLATION"
	TriggerReferral              TriggerKind = "REFERRAL"
	TriggerCommunityContribution TriggerKind = "COMMUNITY_CONTRIBUTION"
)

// TriggerKinds are the kinds every reward catalog must price
var TriggerKinds = []TriggerKind{
	TriggerDailyLogin,
	TriggerWeeklyActive,
	TriggerContentCreation,
	TriggerComment,
	TriggerLikeReceived,
	TriggerShare,
	TriggerCulturalExchange,
	TriggerExchangeParticipation,
	TriggerLanguageExchange,
	TriggerLearningReward,
	TriggerVoiceTranslation,
	TriggerReferral,
	TriggerCommunityContribution,
}

// Transaction is one ledger credit
type Transaction struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Amount      Amount      `json:"amount"`
	Kind        TriggerKind `json:"kind"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
	MirrorRef   string      `json:"mirror_ref,omitempty"`
	MirroredAt  *time.Time  `json:"mirrored_at,omitempty"`
}

// IsMirrored returns true once the chain mirror has acknowledged the credit
func (t *Transaction) IsMirrored() bool {
	return t.MirroredAt != nil
}

// GrantRewardRequest is the HTTP body for an externally triggered reward
type GrantRewardRequest struct {
	Kind        TriggerKind `json:"kind"`
	Amount      Amount      `json:"amount,omitempty"`
	Description string      `json:"description,omitempty"`
}

// BalanceResponse is returned by the balance endpoint
type BalanceResponse struct {
	UserID     string `json:"user_id"`
	Balance    Amount `json:"balance"`
	GrantedDay Amount `json:"granted_today"`
	DailyCap   Amount `json:"daily_cap"`
}
