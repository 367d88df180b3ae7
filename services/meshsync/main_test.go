package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/meshsync/internal/config"
	"github.com/meshsync/internal/model"
	"github.com/meshsync/internal/session/sessiontest"
	"github.com/meshsync/internal/view"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "meshsync dev") || !strings.Contains(out, "commit: none") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, sub := range []string{"serve", "nodes", "version"} {
		if !strings.Contains(buf.String(), sub) {
			t.Errorf("help missing %q", sub)
		}
	}
}

func TestWriteNodeTable(t *testing.T) {
	now := time.Unix(10_000, 0)
	nodes := []model.Node{
		{ID: "!00000001", LongName: model.Ptr("Alpha"), LastHeard: 10_000 - 3600, Favorite: true, HopsAway: model.Ptr(2), SNR: model.Ptr(6.3)},
		{ID: "!00000002", Stale: true, Metrics: &model.DeviceMetrics{BatteryLevel: model.Ptr(80)}},
	}
	buf := new(bytes.Buffer)
	if err := writeNodeTable(buf, nodes, now); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"* Alpha", "1 hour ago", "6.3 dB", "never (stale)", "80%", "2 nodes"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestFetchNodes(t *testing.T) {
	gw := sessiontest.NewGateway(t)
	cfg := &config.Config{GatewayURL: gw.URL()}

	type result struct {
		nodes []model.Node
		err   error
	}
	done := make(chan result, 1)
	go func() {
		nodes, err := fetchNodes(context.Background(), cfg, view.SortName, "", 5*time.Second)
		done <- result{nodes, err}
	}()

	c := gw.Accept(t)
	if typ, _ := c.Next(t); typ != "get_snapshot" {
		t.Fatalf("first frame = %q, want get_snapshot", typ)
	}
	c.SendSnapshot(t,
		`[{"id":"!00000002","lastHeard":10,"user":{"longName":"Bravo"}},{"id":"!00000001","user":{"longName":"alpha"}}]`,
		`[{"index":0}]`)

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatal(res.err)
		}
		if len(res.nodes) != 2 || res.nodes[0].ID != "!00000001" || res.nodes[1].ID != "!00000002" {
			t.Errorf("nodes = %+v", res.nodes)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fetchNodes did not return")
	}
}

func TestFetchNodes_NoSnapshot(t *testing.T) {
	gw := sessiontest.NewGateway(t)
	cfg := &config.Config{GatewayURL: gw.URL()}

	_, err := fetchNodes(context.Background(), cfg, view.SortName, "", 300*time.Millisecond)
	if !errors.Is(err, errNotSynced) {
		t.Errorf("err = %v, want errNotSynced", err)
	}
}
