package intake

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ledgerline/confirm-pipeline/internal/adapter"
	"github.com/ledgerline/confirm-pipeline/internal/logger"
	"github.com/ledgerline/confirm-pipeline/internal/messaging"
	"github.com/ledgerline/confirm-pipeline/internal/store"
	"github.com/ledgerline/confirm-pipeline/internal/store/schema"
)

const (
	defaultDecisionLimit = 50
	maxDecisionLimit     = 200
)

// Handler serves the push-notification hook and the triage API
type Handler struct {
	publisher    messaging.Publisher
	store        store.Store
	clock        adapter.Clock
	sharedSecret string
}

// NewHandler creates a new intake handler
func NewHandler(publisher messaging.Publisher, s store.Store, clock adapter.Clock, sharedSecret string) *Handler {
	return &Handler{
		publisher:    publisher,
		store:        s,
		clock:        clock,
		sharedSecret: sharedSecret,
	}
}

// HealthCheck responds to liveness probes
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandlePushValidation echoes the provider's subscription challenge. The
// provider expects the token back verbatim as plain text.
func (h *Handler) HandlePushValidation(c *gin.Context) {
	token := c.Query("validationToken")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing validationToken"})
		return
	}

	c.String(http.StatusOK, "%s", token)
}

// HandlePush accepts a batched push notification, validates each item's
// shared secret and enqueues the valid ones. The handler only normalizes and
// publishes; it never fetches or extracts inline, so the provider gets its
// acknowledgement quickly.
func (h *Handler) HandlePush(c *gin.Context) {
	// Some providers send the subscription challenge as a POST too
	if token := c.Query("validationToken"); token != "" {
		c.String(http.StatusOK, "%s", token)
		return
	}

	var notification PushNotification
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}

	now := h.clock.Now()
	accepted := 0
	rejected := 0
	publishFailed := 0

	for _, item := range notification.Items {
		// Constant-time comparison; log the source identity on mismatch but
		// never the presented value
		if subtle.ConstantTimeCompare([]byte(item.ClientState), []byte(h.sharedSecret)) != 1 {
			logger.Warn("Rejected push item with invalid shared secret",
				zap.String("message_id", item.MessageID),
				zap.String("sender", item.Sender),
				zap.String("client_ip", c.ClientIP()),
			)
			rejected++
			continue
		}

		candidate := NormalizePush(item, now)
		if err := h.publisher.PublishCandidate(c.Request.Context(), candidate); err != nil {
			logger.Error(err,
				zap.String("external_key", candidate.ExternalKey),
				zap.String("message_id", item.MessageID),
			)
			publishFailed++
			continue
		}

		accepted++
	}

	// If nothing could be enqueued because the broker is down, tell the
	// provider so it redelivers
	if publishFailed > 0 && accepted == 0 {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to enqueue notification"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted": accepted,
		"rejected": rejected,
	})
}

// GetIngestion returns the ledger row for an external key. The key is the
// remainder of the path because object keys contain slashes.
func (h *Handler) GetIngestion(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing external key"})
		return
	}

	record, err := h.store.GetIngestionByKey(c.Request.Context(), key)
	if err != nil {
		logger.Error(err, zap.String("external_key", key))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ingestion not found"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// ListDecisions returns recent match decisions, optionally filtered by
// outcome, for the triage queue
func (h *Handler) ListDecisions(c *gin.Context) {
	var outcome schema.MatchStatus
	if raw := c.Query("outcome"); raw != "" {
		switch schema.MatchStatus(raw) {
		case schema.MatchStatusMatched, schema.MatchStatusUnmatched, schema.MatchStatusAmbiguous:
			outcome = schema.MatchStatus(raw)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid outcome: " + raw})
			return
		}
	}

	limit := defaultDecisionLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit: " + raw})
			return
		}
		limit = min(parsed, maxDecisionLimit)
	}

	decisions, err := h.store.ListMatchDecisions(c.Request.Context(), outcome, limit)
	if err != nil {
		logger.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query decisions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}
