// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import "errors"

var (
	// ErrUnhandledEventType is returned when an event's type has no
	// registered route. Silent gaps in a billing mirror are worse than
	// visible failures, so unknown types always fail the call.
	ErrUnhandledEventType = errors.New("unhandled webhook event type")

	// ErrNotFound is the source API's "resource missing" condition.
	ErrNotFound = errors.New("entity not found on source API")

	// ErrSignatureVerification marks webhook payloads whose signature
	// did not verify against the shared secret. Callers should signal
	// "do not retry" to the source platform.
	ErrSignatureVerification = errors.New("webhook signature verification failed")
)
