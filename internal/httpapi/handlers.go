// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/holomush/authcore/internal/auth"
)

type authResponse struct {
	Success bool            `json:"success"`
	Token   string          `json:"token"`
	User    auth.PublicUser `json:"user"`
}

type userResponse struct {
	Success bool            `json:"success"`
	User    auth.PublicUser `json:"user"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) register(c *fiber.Ctx) error {
	req, err := requestFrom[RegisterRequest](c)
	if err != nil {
		return err
	}
	result, err := s.service.Register(c.UserContext(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(authResponse{Success: true, Token: result.Token, User: result.User})
}

func (s *Server) login(c *fiber.Ctx) error {
	req, err := requestFrom[LoginRequest](c)
	if err != nil {
		return err
	}
	result, err := s.service.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(authResponse{Success: true, Token: result.Token, User: result.User})
}

func (s *Server) logout(c *fiber.Ctx) error {
	session, err := sessionFrom(c)
	if err != nil {
		return err
	}
	if err := s.service.Logout(c.UserContext(), session.UserID); err != nil {
		return err
	}
	return c.JSON(messageResponse{Success: true, Message: "Logged out successfully"})
}

func (s *Server) me(c *fiber.Ctx) error {
	session, err := sessionFrom(c)
	if err != nil {
		return err
	}
	user, err := s.service.CurrentUser(c.UserContext(), session.UserID)
	if err != nil {
		return err
	}
	return c.JSON(userResponse{Success: true, User: user})
}

func (s *Server) updateProfile(c *fiber.Ctx) error {
	session, err := sessionFrom(c)
	if err != nil {
		return err
	}
	req, err := requestFrom[UpdateProfileRequest](c)
	if err != nil {
		return err
	}
	user, err := s.service.UpdateDisplayName(c.UserContext(), session.UserID, req.DisplayName)
	if err != nil {
		return err
	}
	return c.JSON(userResponse{Success: true, User: user})
}

func (s *Server) verifyEmail(c *fiber.Ctx) error {
	if err := s.service.VerifyEmail(c.UserContext(), c.Params("token")); err != nil {
		return err
	}
	return c.JSON(messageResponse{Success: true, Message: "Email verified successfully"})
}

func (s *Server) forgotPassword(c *fiber.Ctx) error {
	req, err := requestFrom[ForgotPasswordRequest](c)
	if err != nil {
		return err
	}
	if err := s.service.ForgotPassword(c.UserContext(), req.Email); err != nil {
		return err
	}
	return c.JSON(messageResponse{Success: true, Message: "Password reset email sent"})
}

func (s *Server) resetPassword(c *fiber.Ctx) error {
	req, err := requestFrom[ResetPasswordRequest](c)
	if err != nil {
		return err
	}
	if err := s.service.ResetPassword(c.UserContext(), req.Token, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(messageResponse{Success: true, Message: "Password reset successfully"})
}
