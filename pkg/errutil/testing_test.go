// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/authcore/pkg/errutil"
)

func TestAssertErrorCode(t *testing.T) {
	err := oops.Code("TOKEN_EXPIRED").Errorf("expired")
	errutil.AssertErrorCode(t, err, "TOKEN_EXPIRED")
	errutil.AssertErrorCode(t, oops.Wrap(err), "TOKEN_EXPIRED")
}

func TestAssertErrorContext(t *testing.T) {
	err := oops.Code("DUPLICATE_EMAIL").With("email", "a@x.com").Errorf("taken")
	errutil.AssertErrorContext(t, err, "email", "a@x.com")
}
