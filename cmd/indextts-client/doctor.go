package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/book-expert/indextts-service/internal/config"
	"github.com/book-expert/indextts-service/internal/voice"
	"github.com/spf13/cobra"
)

const (
	passMark = "✓"
	failMark = "✗"
	warnMark = "!"
)

var errDoctorFailed = errors.New("doctor checks failed")

type doctorReport struct {
	failures int
	out      func(format string, args ...any)
}

func (r *doctorReport) pass(format string, args ...any) {
	r.out(passMark+" "+format+"\n", args...)
}

func (r *doctorReport) warn(format string, args ...any) {
	r.out(warnMark+" "+format+"\n", args...)
}

func (r *doctorReport) fail(format string, args ...any) {
	r.failures++
	r.out(failMark+" "+format+"\n", args...)
}

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local model, voices and tools without contacting the service",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.requireConfig()
			if err != nil {
				return err
			}

			report := &doctorReport{out: func(format string, args ...any) {
				_, _ = fmt.Fprintf(a.out, format, args...)
			}}

			checkConfig(a.cfgFile, report)
			runDoctor(cfg, a, report)

			if report.failures > 0 {
				return fmt.Errorf("%w: %d problem(s)", errDoctorFailed, report.failures)
			}

			_, _ = fmt.Fprintln(a.out, "doctor checks passed")

			return nil
		},
	}
}

func runDoctor(cfg *config.Config, a *app, report *doctorReport) {
	checkModel(cfg.Model, report)
	checkVoices(cfg, a, report)
	checkTool("ffprobe", cfg.Probe.FFprobePath, report.warn, report)

	if cfg.Engine.Mode == config.EngineModeWorker {
		checkTool("python", cfg.Engine.PythonPath, report.fail, report)

		if cfg.Engine.WorkerScript == "" || !isFile(cfg.Engine.WorkerScript) {
			report.fail("worker script: not found at '%s'", cfg.Engine.WorkerScript)
		} else {
			report.pass("worker script: %s", cfg.Engine.WorkerScript)
		}
	}
}

// checkConfig validates the file as the service would load it.
func checkConfig(path string, report *doctorReport) {
	if path == "" {
		report.warn("config: no --config given, checking defaults")

		return
	}

	_, err := config.LoadFile(path)
	if err != nil {
		report.fail("config: %v", err)

		return
	}

	report.pass("config: %s", path)
}

func checkModel(model config.ModelConfig, report *doctorReport) {
	if model.ModelDir == "" || !isDir(model.ModelDir) {
		report.fail("model directory: not found at '%s'", model.ModelDir)

		return
	}

	report.pass("model directory: %s", model.ModelDir)

	if !isFile(model.ConfigPath()) {
		report.fail("model config: not found at '%s'", model.ConfigPath())

		return
	}

	report.pass("model config: %s", model.ConfigPath())
}

func checkVoices(cfg *config.Config, a *app, report *doctorReport) {
	if cfg.Voices.Dir == "" || !isDir(cfg.Voices.Dir) {
		report.fail("voices directory: not found at '%s'", cfg.Voices.Dir)

		return
	}

	missing := voice.MissingRequired(cfg.Voices.Dir)
	if len(missing) > 0 {
		report.warn("voices directory: missing %v", missing)
	} else {
		report.pass("voices directory: all %d standard voices present", len(voice.RequiredFiles))
	}

	catalog := voice.NewCatalog(cfg.Voices.MetaPath, cfg.Voices.Dir, cfg.Voices.SampleURLPrefix, a.log)

	available := len(catalog.Available())
	if available == 0 {
		report.fail("voice catalog: no usable voices in '%s'", cfg.Voices.MetaPath)

		return
	}

	report.pass("voice catalog: %d of %d voices usable", available, len(catalog.Load()))
}

func checkTool(name, binary string, onMissing func(string, ...any), report *doctorReport) {
	path, err := exec.LookPath(binary)
	if err != nil {
		onMissing("%s: '%s' not found in PATH", name, binary)

		return
	}

	report.pass("%s: %s", name, path)
}

func isDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}
