package pipeline

import _ "embed"

//go:embed scripts/dragnn_worker.py
var embeddedWorkerScript string
