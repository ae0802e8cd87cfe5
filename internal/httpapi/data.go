package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/swarmx-controlplane/internal/apperror"
	"github.com/lyzr/swarmx-controlplane/internal/dataref"
)

func secondsToDuration(s int64) time.Duration { return time.Duration(s) * time.Second }

// DataHandlers serves the token-gated DataRef metadata lookup and delete
// endpoints. The bytes themselves are always fetched peer-to-peer between
// compute servers; the control plane only brokers the handle and the
// access token that authorizes a pull.
type DataHandlers struct {
	refs   *dataref.Store
	tokens *dataref.TokenManager
}

func NewDataHandlers(refs *dataref.Store, tokens *dataref.TokenManager) *DataHandlers {
	return &DataHandlers{refs: refs, tokens: tokens}
}

// tokenFromRequest extracts the bearer AccessToken signature from either
// the Authorization header or a `token` query parameter.
func tokenFromRequest(c echo.Context) string {
	if auth := c.Request().Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return c.QueryParam("token")
}

func (h *DataHandlers) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid data ref id: %v", err)
	}
	ref, found := h.refs.Get(id)
	if !found {
		return apperror.NotFound("data ref %s not found", id)
	}

	sig := tokenFromRequest(c)
	if sig == "" {
		return apperror.Forbidden("access token required")
	}
	tok := dataref.AccessToken{DataUUID: id, Signature: sig}
	if err := h.tokens.Verify(tok, dataref.ReadOnly()); err != nil {
		return apperror.Forbidden("%v", err)
	}

	return ok(c, http.StatusOK, ref)
}

func (h *DataHandlers) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid data ref id: %v", err)
	}

	sig := tokenFromRequest(c)
	if sig == "" {
		return apperror.Forbidden("access token required")
	}
	tok := dataref.AccessToken{DataUUID: id, Signature: sig}
	if err := h.tokens.Verify(tok, dataref.Permissions{Delete: true}); err != nil {
		return apperror.Forbidden("%v", err)
	}

	if !h.refs.Delete(id) {
		return apperror.NotFound("data ref %s not found", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// IssueToken mints an AccessToken for an already-known DataRef, used by
// compute servers (via the control plane) to hand a downstream consumer a
// capability instead of raw network access to the owning server.
func (h *DataHandlers) IssueToken(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid data ref id: %v", err)
	}
	if _, found := h.refs.Get(id); !found {
		return apperror.NotFound("data ref %s not found", id)
	}

	var body struct {
		TTLSeconds int64  `json:"ttl_seconds"`
		Write      bool   `json:"write"`
		Delete     bool   `json:"delete"`
		IssuedBy   string `json:"issued_by"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.Validation("invalid token request: %v", err)
	}
	if body.TTLSeconds <= 0 {
		body.TTLSeconds = 300
	}

	perms := dataref.Permissions{Read: true, Write: body.Write, Delete: body.Delete}
	tok, err := h.tokens.Issue(id, body.IssuedBy, secondsToDuration(body.TTLSeconds), perms)
	if err != nil {
		return apperror.Internal(err)
	}
	return ok(c, http.StatusCreated, tok)
}
