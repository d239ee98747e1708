package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/authcore"
)

type loginRequest struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	MfaCode     string `json:"mfa_code"`
	ChallengeID string `json:"challenge_id"`
}

type challengeRequest struct {
	ChallengeID string `json:"challenge_id" binding:"required"`
	Code        string `json:"code" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type codeRequest struct {
	Code string `json:"code" binding:"required"`
}

type setupRequest struct {
	Method string `json:"method" binding:"required"`
	Phone  string `json:"phone"`
}

type unlockRequest struct {
	Username string `json:"username" binding:"required"`
}

// login answers 200 with tokens, or 202 with a challenge when a second
// factor is still required.
func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.engine.Authenticate(c.Request.Context(), authcore.LoginRequest{
		Username:    req.Username,
		Password:    req.Password,
		MfaCode:     req.MfaCode,
		ChallengeID: req.ChallengeID,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if res.MfaRequired {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) verifyChallenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.engine.ValidateChallenge(c.Request.Context(), req.ChallengeID, req.Code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.engine.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// revoke always answers 204 so callers cannot probe for valid tokens.
func (s *Server) revoke(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.engine.RevokeToken(c.Request.Context(), req.RefreshToken)
	c.Status(http.StatusNoContent)
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, principal(c))
}

func (s *Server) setupMfa(c *gin.Context) {
	var req setupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	kind, ok := authcore.ParseMfaKind(req.Method)
	if !ok {
		s.fail(c, authcore.ErrMfaSetupInvalid)
		return
	}
	setup, err := s.engine.SetupMfa(c.Request.Context(), principal(c).UserID, authcore.MfaSetupRequest{Kind: kind, Phone: req.Phone})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, setup)
}

func (s *Server) disableMfa(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.engine.DisableMfa(c.Request.Context(), principal(c).UserID, req.Code); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) regenerateBackupCodes(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	codes, err := s.engine.RegenerateBackupCodes(c.Request.Context(), principal(c).UserID, req.Code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backup_codes": codes})
}

func (s *Server) logoutAll(c *gin.Context) {
	n, err := s.engine.RevokeAllForUser(c.Request.Context(), principal(c).UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

func (s *Server) unlock(c *gin.Context) {
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.engine.UnlockAccount(c.Request.Context(), req.Username); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) clearLockouts(c *gin.Context) {
	n, err := s.engine.ClearAllLockouts(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (s *Server) revokeUser(c *gin.Context) {
	n, err := s.engine.RevokeAllForUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}
