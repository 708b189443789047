// Package services provides technical services: push notifications, tokens, mail transports and outbound HTTP
package services

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jaecopzm/trakpilot/utils"
)

// Token service error constants
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
)

const (
	tokenTypeAccess      = "access"
	tokenTypeUnsubscribe = "unsubscribe"
)

// TokenService issues owner access tokens and signed unsubscribe tokens
type TokenService interface {
	GenerateAccessToken(ownerID uint) (string, error)
	ValidateToken(token string) (*TokenClaims, error)
	GenerateUnsubscribeToken(ownerID uint, email string) (string, error)
	ValidateUnsubscribeToken(token string) (*UnsubscribeClaims, error)
}

// TokenClaims represents the claims in an owner access token
type TokenClaims struct {
	OwnerID   uint      `json:"owner_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	TokenType string    `json:"token_type"`
	TokenID   string    `json:"jti"`
}

// UnsubscribeClaims binds an unsubscribe link to one owner and one recipient
type UnsubscribeClaims struct {
	OwnerID uint   `json:"owner_id"`
	Email   string `json:"email"`
}

// TokenServiceImpl implements TokenService
type TokenServiceImpl struct {
	accessTokenTTL      time.Duration
	unsubscribeTokenTTL time.Duration
	signingMethod       jwt.SigningMethod
	privateKey          *rsa.PrivateKey
	publicKey           *rsa.PublicKey
	secretKey           []byte
	useRSAKeys          bool
	issuer              string
	audience            string
}

// NewTokenService creates a new token service
func NewTokenService(accessTokenTTL, unsubscribeTokenTTL time.Duration, issuer, audience string, useRSAKeys bool, privateKeyPEM, publicKeyPEM, secretKey string) (TokenService, error) {
	var privateKey *rsa.PrivateKey
	var publicKey *rsa.PublicKey
	var secretKeyBytes []byte
	var signingMethod jwt.SigningMethod

	if useRSAKeys {
		var err error
		privateKey, publicKey, err = parseRSAKeys(privateKeyPEM, publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA keys: %w", err)
		}
		signingMethod = jwt.SigningMethodRS256
	} else {
		if secretKey == "" {
			return nil, fmt.Errorf("secret key is required when not using RSA keys")
		}
		secretKeyBytes = []byte(secretKey)
		signingMethod = jwt.SigningMethodHS256
	}

	if unsubscribeTokenTTL <= 0 {
		unsubscribeTokenTTL = 365 * 24 * time.Hour
	}

	return &TokenServiceImpl{
		accessTokenTTL:      accessTokenTTL,
		unsubscribeTokenTTL: unsubscribeTokenTTL,
		signingMethod:       signingMethod,
		privateKey:          privateKey,
		publicKey:           publicKey,
		secretKey:           secretKeyBytes,
		useRSAKeys:          useRSAKeys,
		issuer:              issuer,
		audience:            audience,
	}, nil
}

// parseRSAKeys parses RSA private and public keys from PEM format
func parseRSAKeys(privateKeyPEM, publicKeyPEM string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	if privateKeyPEM == "" || publicKeyPEM == "" {
		return nil, nil, fmt.Errorf("both private and public keys are required")
	}

	privateKeyBlock, _ := pem.Decode([]byte(privateKeyPEM))
	if privateKeyBlock == nil {
		return nil, nil, fmt.Errorf("failed to decode private key")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(privateKeyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	publicKeyBlock, _ := pem.Decode([]byte(publicKeyPEM))
	if publicKeyBlock == nil {
		return nil, nil, fmt.Errorf("failed to decode public key")
	}

	publicKey, err := x509.ParsePKIXPublicKey(publicKeyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPublicKey, ok := publicKey.(*rsa.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("public key is not RSA")
	}

	return privateKey, rsaPublicKey, nil
}

// GenerateAccessToken generates an access token for an owner
func (s *TokenServiceImpl) GenerateAccessToken(ownerID uint) (string, error) {
	now := utils.UTCNow()

	tokenID, err := generateTokenID()
	if err != nil {
		return "", err
	}

	return s.generateToken(jwt.MapClaims{
		"owner_id":   ownerID,
		"token_type": tokenTypeAccess,
		"jti":        tokenID,
		"iat":        now.Unix(),
		"exp":        now.Add(s.accessTokenTTL).Unix(),
		"iss":        s.issuer,
		"aud":        s.audience,
	})
}

// GenerateUnsubscribeToken signs (owner, email) for the footer link
func (s *TokenServiceImpl) GenerateUnsubscribeToken(ownerID uint, email string) (string, error) {
	now := utils.UTCNow()
	return s.generateToken(jwt.MapClaims{
		"owner_id":   ownerID,
		"email":      utils.NormalizeEmail(email),
		"token_type": tokenTypeUnsubscribe,
		"iat":        now.Unix(),
		"exp":        now.Add(s.unsubscribeTokenTTL).Unix(),
		"iss":        s.issuer,
	})
}

// ValidateToken validates an access token and returns its claims
func (s *TokenServiceImpl) ValidateToken(token string) (*TokenClaims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}

	tokenType, ok := claims["token_type"].(string)
	if !ok || tokenType != tokenTypeAccess {
		return nil, ErrTokenInvalid
	}

	ownerID, ok := claims["owner_id"].(float64)
	if !ok || ownerID <= 0 {
		return nil, ErrTokenInvalid
	}

	tokenID, ok := claims["jti"].(string)
	if !ok {
		return nil, ErrTokenInvalid
	}

	issuedAt, ok := claims["iat"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}

	expiresAt, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}

	if utils.UTCNow().After(time.Unix(int64(expiresAt), 0)) {
		return nil, ErrTokenExpired
	}

	return &TokenClaims{
		OwnerID:   uint(ownerID),
		TokenType: tokenType,
		TokenID:   tokenID,
		IssuedAt:  time.Unix(int64(issuedAt), 0),
		ExpiresAt: time.Unix(int64(expiresAt), 0),
	}, nil
}

// ValidateUnsubscribeToken validates a footer link token
func (s *TokenServiceImpl) ValidateUnsubscribeToken(token string) (*UnsubscribeClaims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}

	tokenType, ok := claims["token_type"].(string)
	if !ok || tokenType != tokenTypeUnsubscribe {
		return nil, ErrTokenInvalid
	}
	ownerID, ok := claims["owner_id"].(float64)
	if !ok || ownerID <= 0 {
		return nil, ErrTokenInvalid
	}
	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return nil, ErrTokenInvalid
	}

	return &UnsubscribeClaims{OwnerID: uint(ownerID), Email: email}, nil
}

func (s *TokenServiceImpl) parse(token string) (jwt.MapClaims, error) {
	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (any, error) {
		if s.useRSAKeys {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if !parsedToken.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// generateToken creates a signed JWT token
func (s *TokenServiceImpl) generateToken(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(s.signingMethod, claims)

	if s.useRSAKeys {
		return token.SignedString(s.privateKey)
	}
	return token.SignedString(s.secretKey)
}

// generateTokenID generates a unique token ID
func generateTokenID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", bytes), nil
}
