// Package chain mirrors committed ledger credits to the chain gateway through an
// asynq queue. The local ledger stays authoritative; the mirror only records the
// gateway's reference once a credit has been accepted.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/culturebridge/learning-engine/internal/models"
)

// Task routing
const (
	TypeMirror = "ledger:mirror"
	QueueName  = "ledger"
	MaxRetry   = 5
)

const taskTimeout = 30 * time.Second

type mirrorPayload struct {
	TransactionID string `json:"transaction_id"`
}

// NewMirrorTask builds the task that mirrors one transaction
func NewMirrorTask(transactionID string) (*asynq.Task, error) {
	payload, err := json.Marshal(mirrorPayload{TransactionID: transactionID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mirror payload: %w", err)
	}
	return asynq.NewTask(TypeMirror, payload), nil
}

// Queue enqueues mirror tasks
type Queue struct {
	client *asynq.Client
}

// NewQueue creates a queue on the given redis connection
func NewQueue(opt asynq.RedisConnOpt) *Queue {
	return &Queue{client: asynq.NewClient(opt)}
}

// Enqueue schedules transactionID for mirroring
func (q *Queue) Enqueue(ctx context.Context, transactionID string) error {
	task, err := NewMirrorTask(transactionID)
	if err != nil {
		return err
	}

	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueName),
		asynq.MaxRetry(MaxRetry),
		asynq.Timeout(taskTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue mirror task: %w", err)
	}

	slog.Debug("ledger mirror queued", "task_id", info.ID, "transaction_id", transactionID)
	return nil
}

// Close releases the redis connection
func (q *Queue) Close() error {
	return q.client.Close()
}

// TransactionStore is the part of the ledger the worker reads and updates
type TransactionStore interface {
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	MarkMirrored(ctx context.Context, id, ref string, at time.Time) error
}

// Gateway posts transactions to the chain gateway
type Gateway struct {
	endpoint string
	http     *http.Client
}

// NewGateway creates a gateway client for endpoint
func NewGateway(endpoint string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type gatewayRequest struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Amount        string `json:"amount"`
	Kind          string `json:"kind"`
	CreatedAt     string `json:"created_at"`
}

type gatewayResponse struct {
	TxHash string `json:"tx_hash"`
}

// errRejected marks gateway responses that retrying cannot fix
var errRejected = errors.New("chain gateway rejected transaction")

// Submit posts tx and returns the gateway's transaction hash
func (g *Gateway) Submit(ctx context.Context, tx *models.Transaction) (string, error) {
	body, err := json.Marshal(gatewayRequest{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Amount:        tx.Amount.String(),
		Kind:          string(tx.Kind),
		CreatedAt:     tx.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chain gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	switch {
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("chain gateway returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("%w: status %d: %s", errRejected, resp.StatusCode, bytes.TrimSpace(data))
	}

	var out gatewayResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode gateway response: %w", err)
	}
	if out.TxHash == "" {
		return "", errors.New("chain gateway response has no tx_hash")
	}
	return out.TxHash, nil
}

// Handler processes mirror tasks
type Handler struct {
	store   TransactionStore
	gateway *Gateway
	now     func() time.Time
}

// NewHandler creates a mirror task handler
func NewHandler(store TransactionStore, gateway *Gateway) *Handler {
	return &Handler{store: store, gateway: gateway, now: time.Now}
}

// ProcessTask implements asynq.Handler
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload mirrorPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid mirror payload: %v: %w", err, asynq.SkipRetry)
	}

	tx, err := h.store.GetTransaction(ctx, payload.TransactionID)
	if err != nil {
		return fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx == nil {
		return fmt.Errorf("transaction %s not found: %w", payload.TransactionID, asynq.SkipRetry)
	}
	if tx.IsMirrored() {
		slog.Debug("transaction already mirrored", "transaction_id", tx.ID, "mirror_ref", tx.MirrorRef)
		return nil
	}

	ref, err := h.gateway.Submit(ctx, tx)
	if err != nil {
		if errors.Is(err, errRejected) {
			slog.Error("chain gateway rejected transaction", "transaction_id", tx.ID, "error", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if err := h.store.MarkMirrored(ctx, tx.ID, ref, h.now().UTC()); err != nil {
		return fmt.Errorf("failed to record mirror ref: %w", err)
	}

	slog.Info("transaction mirrored", "transaction_id", tx.ID, "mirror_ref", ref)
	return nil
}

// Worker runs the asynq server consuming the ledger queue
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker creates a worker for handler
func NewWorker(opt asynq.RedisConnOpt, handler *Handler, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 2
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			slog.Warn("ledger mirror task failed", "type", task.Type(), "error", err)
		}),
		Logger: slogLogger{},
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypeMirror, handler)

	return &Worker{server: server, mux: mux}
}

// Start begins processing in the background
func (w *Worker) Start() error {
	slog.Info("starting ledger mirror worker")
	return w.server.Start(w.mux)
}

// Shutdown waits for in-flight tasks and stops the worker
func (w *Worker) Shutdown() {
	slog.Info("stopping ledger mirror worker")
	w.server.Shutdown()
}

// exit is replaced in tests
var exit = os.Exit

type slogLogger struct{}

func (slogLogger) Debug(args ...interface{}) { slog.Debug(fmt.Sprint(args...)) }
func (slogLogger) Info(args ...interface{})  { slog.Info(fmt.Sprint(args...)) }
func (slogLogger) Warn(args ...interface{})  { slog.Warn(fmt.Sprint(args...)) }
func (slogLogger) Error(args ...interface{}) { slog.Error(fmt.Sprint(args...)) }
func (slogLogger) Fatal(args ...interface{}) {
	slog.Error(fmt.Sprint(args...))
	exit(1)
}
