package pipeline

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pdejuan/gcnl-lite/internal/config"
	"github.com/pdejuan/gcnl-lite/internal/utils"
)

const scriptName = "dragnn_worker.py"

type pythonRunner struct {
	logger *utils.Logger
	cfg    *config.PipelineConfig
	script string
}

// NewPythonPool returns a pool whose workers are DRAGNN processes running
// the embedded worker script. The manifest must already be resolved.
func NewPythonPool(
	logger *utils.Logger,
	cfg *config.PipelineConfig,
	language string,
	manifest *config.Manifest,
) *WorkerPool {
	r := &pythonRunner{
		logger: logger,
		cfg:    cfg,
		script: filepath.Join(cfg.Python.ConfigDir, "python", scriptName),
	}

	workerCfg := WorkerConfig{
		Language:  language,
		Segmenter: stageConfig(manifest.Segmenter),
		Parser:    stageConfig(manifest.Parser),
	}

	pool := NewPool(logger, cfg, workerCfg, r.launch)
	pool.setup = r.setupEnvironment
	return pool
}

func stageConfig(st config.Stage) StageConfig {
	return StageConfig{Dir: st.Dir, Spec: st.Spec, Checkpoint: st.Checkpoint}
}

func (r *pythonRunner) launch(id int) (*Process, error) {
	cmd := exec.Command(r.cfg.Python.Interpreter, r.script)
	cmd.Env = append(os.Environ(), "TF_CPP_MIN_LOG_LEVEL=2")
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}

	r.logger.Debug(nil, "Started pipeline worker %d (pid=%d)", id, cmd.Process.Pid)

	return &Process{
		Stdin:  stdin,
		Stdout: stdout,
		Kill: func() error {
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return err
			}
			_ = cmd.Wait()
			return nil
		},
	}, nil
}

func (r *pythonRunner) setupEnvironment() error {
	if err := os.MkdirAll(r.cfg.Python.ConfigDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := r.extractScriptIfNeeded(); err != nil {
		return fmt.Errorf("failed to extract script: %w", err)
	}

	if err := r.checkPython(); err != nil {
		return fmt.Errorf("python check failed: %w", err)
	}

	return nil
}

func (r *pythonRunner) checkPython() error {
	cmd := exec.Command(r.cfg.Python.Interpreter, "--version")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s not found: %s: %w", r.cfg.Python.Interpreter, output, err)
	}

	r.logger.Debug(nil, "Python interpreter found: %s", r.cfg.Python.Interpreter)
	return nil
}

func (r *pythonRunner) extractScriptIfNeeded() error {
	pythonDir := filepath.Dir(r.script)

	if err := os.MkdirAll(pythonDir, 0755); err != nil {
		return fmt.Errorf("failed to create python directory: %w", err)
	}

	if _, err := os.Stat(r.script); err == nil {
		r.logger.Debug(nil, "Python script already exists at %s", r.script)
		return nil
	}

	r.logger.Info(nil, "Extracting embedded Python script to %s", r.script)

	if err := os.WriteFile(r.script, []byte(embeddedWorkerScript), 0755); err != nil {
		return fmt.Errorf("failed to write python script: %w", err)
	}

	return nil
}
