package service

import (
	"errors"

	"github.com/tickchat/internal/models"
	"github.com/tickchat/pkg/jwt"
)

var ErrEmptyToken = errors.New("empty token")

type AuthService interface {
	ValidateToken(tokenString string) (models.UserID, error)
}

type authService struct {
	jwtService jwt.Service
}

func NewAuthService(jwtService jwt.Service) AuthService {
	return &authService{jwtService: jwtService}
}

func (s *authService) ValidateToken(tokenString string) (models.UserID, error) {
	if tokenString == "" {
		return 0, ErrEmptyToken
	}

	claims, err := s.jwtService.ValidateToken(tokenString)
	if err != nil {
		return 0, err
	}

	userID, ok := claims["id"].(float64)
	if !ok || userID <= 0 {
		return 0, errors.New("invalid user ID in token")
	}

	return models.UserID(userID), nil
}
