// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package auth_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/authcore/internal/auth"
)

const (
	password    = "Aa1!aaaa"
	newPassword = "Bb2@bbbb"
)

type apiResponse struct {
	Status int
	Body   map[string]any
}

func call(method, path string, body any, token string) apiResponse {
	GinkgoHelper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := env.API.App().Test(req, 10_000)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	out := apiResponse{Status: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	if len(data) > 0 {
		Expect(json.Unmarshal(data, &out.Body)).To(Succeed())
	}
	return out
}

func uniqueEmail() string {
	return "user-" + strings.ToLower(ulid.Make().String()) + "@example.com"
}

func register(email string) string {
	GinkgoHelper()
	resp := call(http.MethodPost, "/api/auth/register", map[string]string{
		"email": email, "password": password, "displayName": "Tester",
	}, "")
	Expect(resp.Status).To(Equal(http.StatusCreated))
	return resp.Body["token"].(string)
}

func login(email, pw string) apiResponse {
	GinkgoHelper()
	return call(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": pw}, "")
}

var _ = Describe("Auth API over PostgreSQL", func() {
	Describe("account lifecycle", func() {
		It("registers, logs in, resets the password, and rejects the old one", func() {
			email := uniqueEmail()

			resp := call(http.MethodPost, "/api/auth/register", map[string]string{
				"email": email, "password": password, "displayName": "Tester",
			}, "")
			Expect(resp.Status).To(Equal(http.StatusCreated))
			Expect(resp.Body["user"]).To(HaveKeyWithValue("emailVerified", false))

			Expect(login(email, password).Status).To(Equal(http.StatusOK))

			wrong := login(email, "Wrong1!x")
			unknown := login(uniqueEmail(), "Wrong1!x")
			Expect(wrong.Status).To(Equal(http.StatusUnauthorized))
			Expect(unknown.Body).To(Equal(wrong.Body))

			forgotUnknown := call(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": uniqueEmail()}, "")
			Expect(forgotUnknown.Status).To(Equal(http.StatusOK))
			forgot := call(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": email}, "")
			Expect(forgot.Body).To(Equal(forgotUnknown.Body))

			env.Service.Wait()
			resetToken := env.Notifier.ResetToken(email)
			Expect(resetToken).NotTo(BeEmpty())
			resp = call(http.MethodPost, "/api/auth/reset-password", map[string]string{
				"token": resetToken, "newPassword": newPassword,
			}, "")
			Expect(resp.Status).To(Equal(http.StatusOK))

			Expect(login(email, password).Status).To(Equal(http.StatusUnauthorized))
			Expect(login(email, newPassword).Status).To(Equal(http.StatusOK))
		})

		It("rejects a duplicate email in any case", func() {
			email := uniqueEmail()
			register(email)

			resp := call(http.MethodPost, "/api/auth/register", map[string]string{
				"email": strings.ToUpper(email), "password": password, "displayName": "Other",
			}, "")
			Expect(resp.Status).To(Equal(http.StatusConflict))
		})

		It("verifies an email once", func() {
			email := uniqueEmail()
			token := register(email)
			verify := env.Notifier.VerificationToken(email)

			Expect(call(http.MethodPost, "/api/auth/verify-email/"+verify, nil, "").Status).To(Equal(http.StatusOK))
			Expect(call(http.MethodPost, "/api/auth/verify-email/"+verify, nil, "").Status).To(Equal(http.StatusGone))

			me := call(http.MethodGet, "/api/auth/me", nil, token)
			Expect(me.Body["user"]).To(HaveKeyWithValue("emailVerified", true))
		})
	})

	Describe("action tokens", func() {
		It("lets exactly one of many concurrent resets through", func() {
			email := uniqueEmail()
			register(email)
			call(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": email}, "")
			env.Service.Wait()
			resetToken := env.Notifier.ResetToken(email)

			const attempts = 8
			statuses := make([]int, attempts)
			var wg sync.WaitGroup
			for i := range attempts {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					statuses[i] = call(http.MethodPost, "/api/auth/reset-password", map[string]string{
						"token": resetToken, "newPassword": newPassword,
					}, "").Status
				}()
			}
			wg.Wait()

			Expect(statuses).To(ContainElement(http.StatusOK))
			ok := 0
			for _, s := range statuses {
				if s == http.StatusOK {
					ok++
				} else {
					Expect(s).To(Equal(http.StatusGone))
				}
			}
			Expect(ok).To(Equal(1))
		})

		It("refuses a verification token for a password reset", func() {
			email := uniqueEmail()
			register(email)

			resp := call(http.MethodPost, "/api/auth/reset-password", map[string]string{
				"token": env.Notifier.VerificationToken(email), "newPassword": newPassword,
			}, "")
			Expect(resp.Status).To(Equal(http.StatusGone))
		})
	})

	Describe("session revocation", func() {
		It("survives an issuer restart", func() {
			email := uniqueEmail()
			token := register(email)
			Expect(call(http.MethodPost, "/api/auth/logout", nil, token).Status).To(Equal(http.StatusOK))

			fresh, err := auth.NewSessionIssuer(auth.SessionConfig{Secret: secret, Issuer: "authcore-it"}, env.Revocations)
			Expect(err).NotTo(HaveOccurred())
			_, err = fresh.Validate(token)
			Expect(err).NotTo(HaveOccurred(), "nothing restored yet")

			restored, err := fresh.Restore(env.ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(restored).To(BeNumerically(">=", 1))

			_, err = fresh.Validate(token)
			Expect(err).To(MatchError(auth.ErrTokenRevoked))
		})
	})
})
