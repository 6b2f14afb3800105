// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestObserveObject(t *testing.T) {
	before := testutil.ToFloat64(streamObjects.WithLabelValues(KindDelta))
	ObserveObject(" Delta ")
	ObserveObject(KindDelta)

	if got := testutil.ToFloat64(streamObjects.WithLabelValues(KindDelta)) - before; got != 2 {
		t.Errorf("delta count increased by %v, want 2", got)
	}
}

func TestObserveSend(t *testing.T) {
	before := testutil.ToFloat64(sendsTotal.WithLabelValues(OutcomeCanceled))
	ObserveSend(OutcomeCanceled, 150*time.Millisecond)

	if got := testutil.ToFloat64(sendsTotal.WithLabelValues(OutcomeCanceled)) - before; got != 1 {
		t.Errorf("canceled sends increased by %v, want 1", got)
	}
}

func TestIncRefetchFailure(t *testing.T) {
	before := testutil.ToFloat64(refetchFailures)
	IncRefetchFailure()
	if got := testutil.ToFloat64(refetchFailures) - before; got != 1 {
		t.Errorf("refetch failures increased by %v, want 1", got)
	}
}

func TestMustRegisterIdempotent(t *testing.T) {
	MustRegister()
	MustRegister()
}

func TestServeDisabled(t *testing.T) {
	if err := Serve(context.Background(), "", zerolog.Nop()); err != nil {
		t.Errorf("Serve with empty addr: %v", err)
	}
}
