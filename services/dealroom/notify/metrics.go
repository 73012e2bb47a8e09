// Copyright (C) 2026 CapMatch (engineering@capmatch.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealroom",
		Subsystem: "notify",
		Name:      "events_processed_total",
		Help:      "Domain events handled by the fan-out pipeline.",
	}, []string{"event_type"})

	notificationsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealroom",
		Subsystem: "notify",
		Name:      "notifications_inserted_total",
		Help:      "In-app notifications created.",
	}, []string{"event_type"})

	notificationsMuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealroom",
		Subsystem: "notify",
		Name:      "recipients_muted_total",
		Help:      "Recipients skipped because of mute preferences.",
	}, []string{"event_type"})
)
