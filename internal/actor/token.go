package actor

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"evalbank/internal/app/apiresp"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing = errors.New("bearer token missing")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims is the capability set carried by tokens issued by the identity service.
type Claims struct {
	Admin            bool    `json:"adm,omitempty"`
	CoordinatorAreas []int64 `json:"coord,omitempty"`
	ReviewerAreas    []int64 `json:"rev,omitempty"`
	Instructor       bool    `json:"ins,omitempty"`
	Student          bool    `json:"stu,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

func (v *Verifier) Parse(raw string) (Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Actor{}, ErrTokenExpired
		}
		return Actor{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Actor{}, ErrTokenInvalid
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Actor{}, fmt.Errorf("%w: subject must be a positive id", ErrTokenInvalid)
	}
	return Actor{
		ID:               id,
		Admin:            claims.Admin,
		CoordinatorAreas: claims.CoordinatorAreas,
		ReviewerAreas:    claims.ReviewerAreas,
		Instructor:       claims.Instructor,
		Student:          claims.Student,
	}, nil
}

// Sign issues a token for a. Used by operator tooling and tests.
func (v *Verifier) Sign(a Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Admin:            a.Admin,
		CoordinatorAreas: a.CoordinatorAreas,
		ReviewerAreas:    a.ReviewerAreas,
		Instructor:       a.Instructor,
		Student:          a.Student,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(a.ID, 10),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func bearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", ErrTokenMissing
	}
	if strings.HasPrefix(h, "Bearer ") {
		h = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if h == "" {
		return "", ErrTokenMissing
	}
	return h, nil
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		a, err := v.Parse(raw)
		if err != nil {
			msg := "unauthorized"
			if errors.Is(err, ErrTokenExpired) {
				msg = "token expired"
			}
			apiresp.WriteError(w, r, http.StatusUnauthorized, msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), a)))
	})
}

// Require rejects requests whose actor fails check.
func Require(check func(Actor) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := FromContext(r.Context())
			if !ok {
				apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !check(a) {
				apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
