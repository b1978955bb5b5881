package main

import (
	"bytes"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tonylturner/sitecon/internal/command"
	"github.com/tonylturner/sitecon/internal/config"
	"github.com/tonylturner/sitecon/internal/radio"
)

func captureStdout(w io.Writer) func() {
	orig := os.Stdout
	r, wpipe, err := os.Pipe()
	if err != nil {
		panic(err)
	}
	os.Stdout = wpipe

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(w, r)
		close(done)
	}()

	return func() {
		_ = wpipe.Close()
		<-done
		os.Stdout = orig
	}
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	var buf bytes.Buffer
	restore := captureStdout(&buf)
	err := cmd.Execute()
	restore()
	return buf.String(), err
}

func TestRequiredFlagsErrors(t *testing.T) {
	tests := []struct {
		name    string
		cmd     func() *cobra.Command
		wantErr string
	}{
		{"decode missing hex", newDecodeCmd, "required flag --hex not set"},
		{"capture dump missing input", newCaptureDumpCmd, "required flag --input not set"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.cmd())
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error: got %q want %q", err.Error(), tt.wantErr)
			}
			if !strings.Contains(err.Error(), "--help\"") {
				t.Errorf("error %q carries no help hint", err.Error())
			}
		})
	}
}

func TestRunHelpDoesNotStart(t *testing.T) {
	cmd := newRunCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("help failed: %v", err)
	}
	if !strings.Contains(out.String(), "Run the site controller") {
		t.Fatalf("expected help output, got: %s", out.String())
	}
}

func TestRunMissingConfig(t *testing.T) {
	_, err := execute(t, newRunCmd(), "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "Configuration error") {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, newVersionCmd())
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	for _, want := range []string{"sitecon version dev", "radio protocol: v1", "go: go"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestRootListsCommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "config", "decode", "capture", "version"} {
		if !names[want] {
			t.Errorf("root missing %q command", want)
		}
	}
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sitecon.yaml")

	t.Run("print-default", func(t *testing.T) {
		out, err := execute(t, newConfigCmd(), "print-default")
		if err != nil {
			t.Fatalf("print-default failed: %v", err)
		}
		var cfg config.Config
		if err := yaml.Unmarshal([]byte(out), &cfg); err != nil {
			t.Fatalf("output is not YAML: %v", err)
		}
		if len(cfg.Devices) == 0 || cfg.Uplink.URI == "" {
			t.Errorf("default config incomplete: %+v", cfg)
		}
	})

	t.Run("init", func(t *testing.T) {
		if _, err := execute(t, newConfigCmd(), "init", "--output", path); err != nil {
			t.Fatalf("init failed: %v", err)
		}
		if _, err := execute(t, newConfigCmd(), "init", "--output", path); err == nil {
			t.Error("expected error when the file exists")
		}
	})

	t.Run("validate", func(t *testing.T) {
		out, err := execute(t, newConfigCmd(), "validate", "--config", path)
		if err != nil {
			t.Fatalf("validate failed: %v", err)
		}
		for _, want := range []string{"Config OK:", "CHE1", "AISLE-A"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q: %s", want, out)
			}
		}
	})

	t.Run("validate invalid", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(bad, []byte("uplink:\n  uri: \"ftp://nowhere\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := execute(t, newConfigCmd(), "validate", "--config", bad); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestDecodeCommand(t *testing.T) {
	frame, err := radio.EncodePacket(radio.Packet{
		Header:  radio.Header{NetworkID: 1, Src: 2, Dst: radio.ControllerAddr},
		Command: command.Button{Position: 3, Value: 7},
	})
	if err != nil {
		t.Fatalf("EncodePacket: %v", err)
	}
	out, err := execute(t, newDecodeCmd(), "--hex", hex.EncodeToString(radio.EncodeSLIP(frame)))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !strings.Contains(out, "Command: Button (0x21)") || !strings.Contains(out, "src=2") {
		t.Errorf("unexpected output: %s", out)
	}
}
