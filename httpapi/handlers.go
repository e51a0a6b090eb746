package httpapi

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/feastbook/authcore"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type verifyRequest struct {
	TemporaryToken string `json:"temporaryToken"`
	Token          string `json:"token"`
	BackupCode     string `json:"backupCode"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type setupVerifyRequest struct {
	Token string `json:"token"`
}

type secondFactorRequest struct {
	Password   string `json:"password"`
	Token      string `json:"token"`
	BackupCode string `json:"backupCode"`
}

type checkUsernameRequest struct {
	Username  string `json:"username"`
	ExcludeID string `json:"excludeId"`
}

func (s *Server) handleLogin(c fiber.Ctx) error {
	var req loginRequest
	if err := c.Bind().Body(&req); err != nil {
		return message(c, http.StatusBadRequest, msgInvalidBody)
	}

	result, err := s.engine.Login(s.requestContext(c), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, authcore.ErrInvalidCredentials) {
			return message(c, http.StatusUnauthorized, msgInvalidCredentials)
		}
		return s.internal(c, err)
	}

	if result.RequiresTwoFactor {
		return c.JSON(fiber.Map{
			"requiresTwoFactor": true,
			"temporaryToken":    result.TemporaryToken,
		})
	}
	return c.JSON(fiber.Map{
		"token":     result.Token,
		"principal": result.Principal,
	})
}

func (s *Server) handleVerifySecondFactor(c fiber.Ctx) error {
	var req verifyRequest
	if err := c.Bind().Body(&req); err != nil {
		return message(c, http.StatusBadRequest, msgInvalidBody)
	}

	code, method, ok := secondFactorOf(req.Token, req.BackupCode)
	if !ok || req.TemporaryToken == "" {
		return message(c, http.StatusBadRequest, msgInvalidBody)
	}

	result, err := s.engine.VerifySecondFactor(s.requestContext(c), req.TemporaryToken, code, method)
	if err != nil {
		switch {
		case errors.Is(err, authcore.ErrUnauthorized):
			return message(c, http.StatusUnauthorized, msgTokenInvalid)
		case errors.Is(err, authcore.ErrInvalidSecondFactor):
			return message(c, http.StatusUnauthorized, msgInvalidCode)
		default:
			return s.internal(c, err)
		}
	}

	return c.JSON(fiber.Map{
		"token":     result.Token,
		"principal": result.Principal,
	})
}

func (s *Server) handleTwoFactorStatus(c fiber.Ctx) error {
	return c.JSON(s.engine.TwoFactorOf(authResult(c).Principal))
}

func (s *Server) handleSetupInit(c fiber.Ctx) error {
	var req passwordRequest
	if err := c.Bind().Body(&req); err != nil {
		return message(c, http.StatusBadRequest, msgInvalidBody)
	}

	setup, err := s.engine.BeginTwoFactorSetup(s.requestContext(c), authResult(c).Principal, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, authcore.ErrInvalidCredentials):
			return message(c, http.StatusUnauthorized, msgInvalidCredentials)
		case errors.Is(err, authcore.ErrTwoFactorAlreadyEnabled):
			return message(c, http.StatusConflict, "Two-factor already enabled")
		default:
			return s.internal(c, err)
		}
	}
	return c.JSON(setup)
}

func (s *Server) handleSetupVerify(c fiber.Ctx) error {
	var req setupVerifyRequest
	if err := c.Bind().Body(&req); err != nil {
		return message(c, http.StatusBadRequest, msgInvalidBody)
	}

	codes, err := s.engine.ConfirmTwoFactorSetup(s.requestContext(c), authResult(c).Principal, req.Token)
	if err != nil {
		switch {
		case errors.Is(err, authcore.ErrSetupNotInitialized):
			return message(c, http.StatusBadRequest, "Two-factor setup not initialized")
		case errors.Is(err, authcore.ErrInvalidSecondFactor):
			return message(c, http.StatusBadRequest, msgInvalidCode)
		default:
			return s.internal(c, err)
		}
	}
	return c.JSON(fiber.Map{"backupCodes": codes})
}

func (s *Server) handleDisable(c fiber.Ctx) error {
	var req secondFactorRequest
	if err := c.Bind().Body(&req); err != nil {
		return message(c, http.StatusBadRequest, msgInvalidBody)
	}

	code, method, ok := secondFactorOf(req.Token, req.BackupCode)
	if !ok {
		return message(c, http.StatusBadRequest, msgInvalidBody)
	}

	err := s.engine.DisableTwoFactor(s.requestContext(c), authResult(c).Principal, req.Password, code, method)
	if err != nil {
		switch {
		case errors.Is(err, authcore.ErrInvalidCredentials):
			return message(c, http.StatusUnauthorized, msgInvalidCredentials)
		case errors.Is(err, authcore.ErrInvalidSecondFactor):
			return message(c, http.StatusBadRequest, msgInvalidCode)
		case errors.Is(err, authcore.ErrTwoFactorNotEnabled):
			return message(c, http.StatusBadRequest, "Two-factor not enabled")
		default:
			return s.internal(c, err)
		}
	}
	return c.JSON(fiber.Map{"message": "Two-factor authentication disabled"})
}

func (s *Server) handleRegenerateBackupCodes(c fiber.Ctx) error {
	var req secondFactorRequest
	if err := c.Bind().Body(&req); err != nil {
		return message(c, http.StatusBadRequest, msgInvalidBody)
	}

	code, method, ok := secondFactorOf(req.Token, req.BackupCode)
	if !ok {
		return message(c, http.StatusBadRequest, msgInvalidBody)
	}

	codes, err := s.engine.RegenerateBackupCodes(s.requestContext(c), authResult(c).Principal, req.Password, code, method)
	if err != nil {
		switch {
		case errors.Is(err, authcore.ErrInvalidCredentials):
			return message(c, http.StatusUnauthorized, msgInvalidCredentials)
		case errors.Is(err, authcore.ErrInvalidSecondFactor):
			return message(c, http.StatusBadRequest, msgInvalidCode)
		case errors.Is(err, authcore.ErrTwoFactorNotEnabled):
			return message(c, http.StatusBadRequest, "Two-factor not enabled")
		default:
			return s.internal(c, err)
		}
	}
	return c.JSON(fiber.Map{"backupCodes": codes})
}

func (s *Server) handleCheckUsername(c fiber.Ctx) error {
	var req checkUsernameRequest
	if err := c.Bind().Body(&req); err != nil {
		return message(c, http.StatusBadRequest, msgInvalidBody)
	}
	if req.Username == "" {
		return message(c, http.StatusBadRequest, msgInvalidBody)
	}

	available, err := s.engine.CheckUsername(s.requestContext(c), req.Username, req.ExcludeID)
	if err != nil {
		return s.internal(c, err)
	}
	return c.JSON(fiber.Map{"available": available})
}

// secondFactorOf maps the token/backupCode request fields onto exactly one
// verification method. Both or neither set is a client error.
func secondFactorOf(totpCode, backupCode string) (string, authcore.SecondFactorMethod, bool) {
	switch {
	case totpCode != "" && backupCode == "":
		return totpCode, authcore.MethodTOTP, true
	case backupCode != "" && totpCode == "":
		return backupCode, authcore.MethodBackupCode, true
	default:
		return "", "", false
	}
}
