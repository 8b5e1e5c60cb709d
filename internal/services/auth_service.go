package services

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService は設定されたAPIパスワードでログインを検証します。
// パスワードは起動時にbcryptでハッシュ化し、平文は保持しません。
type AuthService struct {
	passwordHash []byte
	jwtService   *JWTService
}

// HashPassword は与えられたパスワードをbcryptでハッシュ化します。
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("could not hash password: %w", err)
	}
	return string(hashed), nil
}

// NewAuthService は新しいAuthServiceを作成します。
func NewAuthService(password string, jwtService *JWTService) (*AuthService, error) {
	hashed, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &AuthService{passwordHash: []byte(hashed), jwtService: jwtService}, nil
}

// Login はパスワードを検証し、APIトークンを返します。
func (s *AuthService) Login(password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.jwtService.GenerateToken(APISubject)
}
