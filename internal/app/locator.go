// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/family_locator/internal/cascade"
	"github.com/relabs-tech/family_locator/internal/config"
	"github.com/relabs-tech/family_locator/internal/dashboard"
	"github.com/relabs-tech/family_locator/internal/geolocate"
	"github.com/relabs-tech/family_locator/internal/observability"
	"github.com/relabs-tech/family_locator/internal/positioning"
	"github.com/relabs-tech/family_locator/internal/provider"
	"github.com/relabs-tech/family_locator/internal/report"
	"github.com/relabs-tech/family_locator/internal/trigger"
	"github.com/relabs-tech/family_locator/internal/web"
)

// RunLocator runs the device agent: position providers, the acquisition
// cascade, reporting, remote triggers and the local web surface. It returns
// on SIGINT/SIGTERM or when a component fails.
func RunLocator() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialized")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- 1) Position providers ----
	gpsProv := positioning.NewProvider(positioning.GPS)
	netProv := positioning.NewProvider(positioning.Network)
	passiveProv := positioning.NewProvider(positioning.Passive)
	manager := positioning.NewManager(gpsProv, netProv, passiveProv)

	gate := provider.NewStaticGate(
		provider.ParsePermissions(cfg.GrantedPermissions),
		manager,
		provider.DialProbe{Address: cfg.ConnectivityProbe, Timeout: cfg.ConnectivityProbeTimeout},
	)
	manager.SetAccessCheck(gate.AccessCheck())

	// GPS comes from the serial receiver when one is configured, otherwise
	// from the broker like the other providers
	fed := []*positioning.Provider{netProv, passiveProv}
	if cfg.GPSSerialPort == "" {
		fed = append(fed, gpsProv)
	}

	// ---- 2) MQTT ----
	var (
		feed     *positioning.MQTTFeed
		listener *trigger.MQTTListener
	)
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDLocator).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("locator: MQTT connection lost: %v", err)
			feed.ConnectionLost()
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			// subscriptions do not survive a clean-session reconnect
			if err := feed.Start(); err != nil {
				log.Printf("locator: %v", err)
			}
			if err := listener.Start(); err != nil {
				log.Printf("locator: %v", err)
			}
		})
	client := mqtt.NewClient(opts)

	// ---- 3) Cascade ----
	metrics, err := observability.NewCascadeMetrics(nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	casc := cascade.New(cascade.Config{
		Service: manager,
		Gate:    gate,
		Telephony: provider.StaticTelephony{Cell: provider.Cell{
			CellID:   cfg.CellID,
			Operator: cfg.CellOperator,
		}},
		Geolocator: geolocate.New(cfg.GeolocateEndpoint, cfg.GeolocateConnectTimeout, cfg.GeolocateReadTimeout),
		Stages:     cascade.DefaultStages().WithTimeouts(cfg.GPSTimeout, cfg.NetworkTimeout, cfg.CellTimeout),
		Metrics:    metrics,
	})
	defer casc.Close()

	// ---- 4) Reporting ----
	hub := web.NewHub()
	reporters := []report.Reporter{report.NewMQTTReporter(client, report.Topics{
		Fix:         cfg.TopicFix,
		Denied:      cfg.TopicDenied,
		Error:       cfg.TopicError,
		AutoEnabled: cfg.TopicAutoEnable,
	})}
	var dash *dashboard.Client
	if cfg.DashboardURL != "" {
		dash = dashboard.New(cfg.DashboardURL, cfg.DashboardTimeout, cfg.DashboardRetries)
		reporters = append(reporters, dash)
	}
	forwarder := report.NewForwarder(hub, cfg.DeviceID, reporters...)
	controller := cascade.NewController(casc, forwarder)

	feed = positioning.NewMQTTFeed(client, cfg.TopicFeedPrefix, fed...)
	listener = trigger.NewMQTTListener(client, cfg.TopicRequest, cfg.DeviceID, controller)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("locator: connected to MQTT broker at %s", cfg.MQTTBroker)
	defer client.Disconnect(250)

	// ---- 5) Workers ----
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return forwarder.Run(ctx)
	})

	if cfg.GPSSerialPort != "" {
		g.Go(func() error {
			return runGPSReceiver(ctx, gpsProv, cfg.GPSSerialPort, cfg.GPSBaudRate)
		})
	}

	if dash != nil {
		poller := trigger.NewPoller(dash, controller, cfg.DeviceID, cfg.DashboardPollInterval)
		g.Go(func() error {
			return poller.Run(ctx)
		})
	}

	server := web.NewServer(controller, gate, hub, metrics.Handler())
	g.Go(func() error {
		return server.Run(ctx, fmt.Sprintf(":%d", cfg.WebServerPort))
	})

	err = g.Wait()
	log.Println("locator: shutting down")
	controller.StopTracking()
	listener.Stop()
	feed.Stop()
	return err
}

// runGPSReceiver feeds the GPS provider from the serial receiver. A missing
// or failing receiver leaves GPS disabled; the cascade skips it.
func runGPSReceiver(ctx context.Context, p *positioning.Provider, port string, baud int) error {
	rd, err := positioning.OpenSerial(port, baud)
	if err != nil {
		log.Printf("locator: %v, GPS disabled", err)
		return nil
	}
	defer rd.Close()

	err = positioning.NewNMEAReceiver(p).Run(ctx, rd)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("locator: GPS receiver stopped: %v", err)
	}
	return nil
}
