package gpu

import (
	"log"
	"os"
)

// Debug enables adapter and dispatch tracing. Set LOOM_GPU_DEBUG=1 to turn
// it on at startup.
var Debug = os.Getenv("LOOM_GPU_DEBUG") != ""

// Log prints a tracing line. Callers check Debug first.
func Log(format string, args ...any) {
	log.Printf("[gpu] "+format, args...)
}
