package services_test

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"relaydesk/config"
	"relaydesk/internal/services"
	desk_errors "relaydesk/pkg/errors"
)

var _ = Describe("AuthService", func() {
	var (
		svc     *services.AuthService
		subject services.Subject
	)

	BeforeEach(func() {
		svc = services.NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiryMin: 60})
		subject = services.Subject{UserID: "agent-1", Email: "agent@example.com", Role: services.RoleAdmin}
	})

	It("verifies a token it issued", func() {
		token, expiresIn, err := svc.IssueAccessToken(subject)
		Expect(err).NotTo(HaveOccurred())
		Expect(expiresIn).To(Equal(int64(3600)))

		got, err := svc.Verify(token)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(subject))
	})

	It("rejects expired tokens", func() {
		expired := services.NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiryMin: -1})
		token, _, err := expired.IssueAccessToken(subject)
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Verify(token)
		Expect(errors.Is(err, desk_errors.ErrUnauthorized)).To(BeTrue())
	})

	It("rejects tokens signed with another secret", func() {
		other := services.NewAuthService(&config.Config{JWTSecret: "other-secret", JWTExpiryMin: 60})
		token, _, err := other.IssueAccessToken(subject)
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Verify(token)
		Expect(errors.Is(err, desk_errors.ErrUnauthorized)).To(BeTrue())
	})

	It("rejects unsigned tokens", func() {
		claims := services.AccessClaims{
			Role: services.RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "agent-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Verify(token)
		Expect(errors.Is(err, desk_errors.ErrUnauthorized)).To(BeTrue())
	})

	It("rejects tokens with an unknown role", func() {
		claims := services.AccessClaims{
			Role: "superuser",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "agent-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Verify(token)
		Expect(errors.Is(err, desk_errors.ErrUnauthorized)).To(BeTrue())
	})

	It("rejects garbage and empty tokens", func() {
		_, err := svc.Verify("not-a-jwt")
		Expect(errors.Is(err, desk_errors.ErrUnauthorized)).To(BeTrue())
		_, err = svc.Verify("")
		Expect(errors.Is(err, desk_errors.ErrUnauthorized)).To(BeTrue())
	})

	It("maps domain errors to HTTP statuses", func() {
		Expect(services.HTTPStatus(desk_errors.ErrInvalidInput)).To(Equal(400))
		Expect(services.HTTPStatus(desk_errors.ErrForbidden)).To(Equal(403))
		Expect(services.HTTPStatus(desk_errors.ErrConflict)).To(Equal(409))
		Expect(services.HTTPStatus(errors.New("boom"))).To(Equal(500))
	})
})
