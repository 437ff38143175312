package telephony

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"telephony-failover/internal/fleet"
	"telephony-failover/internal/metrics"
	"telephony-failover/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AgentResolver finds the agent currently bound to a dialed number.
type AgentResolver interface {
	AgentByPhoneNumber(ctx context.Context, number string) (fleet.VoiceAgent, error)
}

// AccountResolver finds the fleet account a webhook was sent for.
type AccountResolver interface {
	AccountBySID(ctx context.Context, accountSID string) (fleet.TelephonyAccount, error)
}

// WebhookHandler answers the provider's voice and status webhooks.
//
// Inbound calls are bridged over SIP to the agent's registration on the voice
// platform, which keeps working after failover because the lookup follows the
// agent's current number. Every request must carry a valid signature made
// with the auth token of the account named in the form. PublicBaseURL is the
// base the provider was given for webhook URLs, which the signature covers.
type WebhookHandler struct {
	Agents        AgentResolver
	Accounts      AccountResolver
	SIPDomain     string
	PublicBaseURL string
	Metrics       *metrics.Collector
}

// authentic checks the provider signature and aborts the request with 403 when it does not hold.
func (h WebhookHandler) authentic(c *gin.Context, kind, accountSID string) bool {
	log := logger.FromGin(c)

	account, err := h.Accounts.AccountBySID(c.Request.Context(), accountSID)
	if err != nil {
		log.Warn("webhook for unknown account", "kind", kind, "account_sid", accountSID, "err", err)
		h.Metrics.IncWebhook(kind, "forbidden")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}

	fullURL := strings.TrimRight(h.PublicBaseURL, "/") + c.Request.URL.RequestURI()
	if !ValidSignature(account.AuthToken, fullURL, c.Request.PostForm, c.GetHeader(SignatureHeader)) {
		log.Warn("webhook signature mismatch", "kind", kind, "account_id", account.ID)
		h.Metrics.IncWebhook(kind, "forbidden")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

func (h WebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Agents == nil || h.Accounts == nil || h.SIPDomain == "" {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook handler not configured"})
		return
	}

	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("voice webhook parse failed", "err", err)
		h.Metrics.IncWebhook("voice", "invalid")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if !h.authentic(c, "voice", form.AccountSid) {
		return
	}

	route := CallRoute{Action: CallActionReject}
	agent, err := h.Agents.AgentByPhoneNumber(c.Request.Context(), form.To)
	switch {
	case err != nil:
		log.Warn("no agent for dialed number", "to", form.To, "call_sid", form.CallSid, "err", err)
	case agent.Status != fleet.AgentStatusActive || agent.PlatformAgentID == "":
		log.Info("agent not routable", "agent_id", agent.ID, "status", agent.Status, "call_sid", form.CallSid)
	default:
		route = CallRoute{
			Action:    CallActionConnect,
			ConnectTo: fmt.Sprintf("sip:%s@%s", agent.PlatformAgentID, h.SIPDomain),
		}
		log.Info("inbound call routed", "agent_id", agent.ID, "call_sid", form.CallSid)
	}
	h.Metrics.IncWebhook("voice", string(route.Action))

	twiml, err := RenderTwiML(route)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h WebhookHandler) HandleStatusCallback(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Accounts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook handler not configured"})
		return
	}

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("status webhook parse failed", "err", err)
		h.Metrics.IncWebhook("status", "invalid")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if !h.authentic(c, "status", form.AccountSid) {
		return
	}

	h.Metrics.IncWebhook("status", CallStatusLabel(form.CallStatus))
	log.Info("call status",
		"call_sid", form.CallSid,
		"account_sid", form.AccountSid,
		"to", form.To,
		"status", form.CallStatus,
		"duration", form.CallDuration,
		"error_code", form.ErrorCode,
	)
	c.Status(http.StatusNoContent)
}
