package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

// DefaultTTL: срок жизни ключа, если не задан явно.
const DefaultTTL = 24 * time.Hour

const (
	// storeTimeout ограничивает запись результата после выполнения запроса.
	storeTimeout = 5 * time.Second
	// runTimeout ограничивает операцию под ключом, отвязанную от отмены запроса.
	runTimeout = 30 * time.Second
)

// Ошибки повторного использования ключа с точки зрения клиента.
var (
	ErrStillProcessing = domain.Conflict("request with this Idempotency-Key is still being processed")
	ErrKeyReused       = domain.Validation("Idempotency-Key was already used with a different request")
)

var guardRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "inventory_idempotency_requests_total",
	Help: "Requests carrying an Idempotency-Key grouped by outcome.",
}, []string{"scope", "result"})

// Request: запрос под ключом: операция, автор и тело в том виде, в каком пришли.
type Request struct {
	Scope  string
	UserID string
	Key    string
	Body   []byte
}

// Response: сохранённый ответ: HTTP-статус и тело как есть.
type Response struct {
	Status int
	Body   []byte
}

// Guard выполняет запрос не более одного раза на ключ и воспроизводит сохранённый ответ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
}

// NewGuard создаёт Guard. ttl<=0 заменяется на DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{repo: repo, ttl: ttl, logger: logger}
}

// RequestHash: sha256 от идентификатора пользователя и тела запроса.
func RequestHash(userID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Execute запускает run под ключом req.Key. Пустой ключ отключает защиту.
// replayed=true означает, что ответ взят из хранилища, а run не вызывался.
//
// run получает контекст без отмены клиента (с ограничением runTimeout): начатое
// оформление доводится до конца. Ответ 5xx не сохраняется, ключ освобождается,
// и повтор с тем же ключом выполняется заново.
func (g *Guard) Execute(ctx context.Context, req Request, run func(ctx context.Context) Response) (resp Response, replayed bool, err error) {
	key := strings.TrimSpace(req.Key)
	if g == nil || g.repo == nil || key == "" {
		return run(ctx), false, nil
	}
	if err := domain.ValidateIdempotencyKey(key); err != nil {
		guardRequestsTotal.WithLabelValues(req.Scope, "invalid").Inc()
		return Response{}, false, domain.Wrap(domain.KindBadRequest, err, "Idempotency-Key: %s", err.Error())
	}

	storageKey := domain.ScopedIdempotencyKey(req.Scope, req.UserID, key)
	record, err := g.repo.CreateProcessing(ctx, storageKey, RequestHash(req.UserID, req.Body), time.Now().UTC().Add(g.ttl))
	if err != nil {
		resp, err := g.replay(storageKey, req.Scope, record, err)
		return resp, err == nil, err
	}
	guardRequestsTotal.WithLabelValues(req.Scope, "executed").Inc()

	runCtx, cancelRun := context.WithTimeout(context.WithoutCancel(ctx), runTimeout)
	resp = run(runCtx)
	cancelRun()

	// Ответ сохраняется, даже если клиент уже отключился.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if resp.Status == 0 || resp.Status >= 500 {
		guardRequestsTotal.WithLabelValues(req.Scope, "released").Inc()
		if releaseErr := g.repo.Release(storeCtx, storageKey); releaseErr != nil {
			g.logger.WithError(releaseErr).WithField("idempotency_key", storageKey).Warn("failed to release idempotency key")
		}
		return resp, false, nil
	}

	mark := g.repo.MarkDone
	if resp.Status >= 400 {
		mark = g.repo.MarkFailed
	}
	if markErr := mark(storeCtx, storageKey, resp.Body, resp.Status); markErr != nil {
		g.logger.WithError(markErr).WithFields(log.Fields{
			"idempotency_key": storageKey,
			"user_id":         req.UserID,
		}).Warn("failed to store idempotent response")
	}

	return resp, false, nil
}

func (g *Guard) replay(key, scope string, record domain.IdempotencyRecord, createErr error) (Response, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		guardRequestsTotal.WithLabelValues(scope, "mismatch").Inc()
		return Response{}, ErrKeyReused
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Status == domain.IdempotencyStatusProcessing:
			guardRequestsTotal.WithLabelValues(scope, "in_flight").Inc()
			return Response{}, ErrStillProcessing
		case record.Status.Terminal():
			if record.HTTPStatus == 0 {
				return Response{}, fmt.Errorf("idempotency record %s has no stored response", key)
			}
			guardRequestsTotal.WithLabelValues(scope, "replayed").Inc()
			return Response{Status: record.HTTPStatus, Body: record.ResponseBody}, nil
		default:
			return Response{}, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	case errors.Is(createErr, domain.ErrIdempotencyKeyRequired), errors.Is(createErr, domain.ErrIdempotencyRequestHashRequired):
		return Response{}, domain.Wrap(domain.KindBadRequest, createErr, "%s", createErr.Error())
	default:
		g.logger.WithError(createErr).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return Response{}, fmt.Errorf("initialize idempotency record: %w", createErr)
	}
}
