// server.go - Server-Initialisierung und Haupteinstiegspunkt
//
// Dieses Modul enthaelt:
// - Server: HTTP-Server ueber einer Engine
// - Execute: Haupteinstiegspunkt fuer den Runner-Server
package parallelrunner

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/localllm/localllm/envconfig"
	"github.com/localllm/localllm/llm"
	"github.com/localllm/localllm/logutil"
	"github.com/localllm/localllm/ml"
)

// Server ist der HTTP-Server fuer parallele Generierung
type Server struct {
	// rt ist die geladene Runtime
	rt ml.Runtime

	// lc ist der Inferenz-Kontext; er gehoert fuer die Dauer eines
	// Top-Level-Aufrufs exklusiv diesem Aufruf
	lc ml.Context

	// engine ist der Scheduler ueber lc
	engine *Engine

	// status fuer externe Health-Checks
	status llm.ServerStatus

	// genMu serialisiert Top-Level-Aufrufe auf dem Kontext
	genMu sync.Mutex

	// reqSem begrenzt gleichzeitig angenommene Anfragen
	reqSem *semaphore.Weighted
}

// Execute ist der Haupteinstiegspunkt fuer den Runner-Server
func Execute(args []string) error {
	fs := flag.NewFlagSet("runner", flag.ExitOnError)
	rtName := fs.String("runtime", "sim", "Runtime to load (registered runtime name)")
	mpath := fs.String("model", "", "Path to model binary file")
	port := fs.Int("port", 8080, "Port to expose the server on")
	numCtx := fs.Int("ctx", int(envconfig.ContextLength()), "Context length")
	batchSize := fs.Int("batch", int(envconfig.BatchSize()), "Maximum batch size per decode call")
	parallel := fs.Int("parallel", int(envconfig.NumParallel()), "Number of parallel sequence slots")
	threads := fs.Int("threads", 0, "Number of threads (0 = runtime default)")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Runner usage\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("starting runner", "runtime", *rtName, "parallel", *parallel)

	rt, err := ml.NewRuntime(*rtName, *mpath, ml.RuntimeParams{NumThreads: *threads})
	if err != nil {
		return err
	}
	defer rt.Close()

	// Eine Sequenz je Slot plus die reservierte Praefix-Sequenz
	lc, err := rt.NewContext(ml.ContextParams{
		NumCtx:     *numCtx,
		BatchSize:  *batchSize,
		NumSeqMax:  *parallel + 1,
		NumThreads: *threads,
	})
	if err != nil {
		return err
	}
	defer lc.Close()

	server := &Server{
		rt:     rt,
		lc:     lc,
		engine: NewEngine(lc),
		status: llm.ServerStatusReady,
		reqSem: semaphore.NewWeighted(int64(*parallel)),
	}

	addr := "127.0.0.1:" + strconv.Itoa(*port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Println("Listen error:", err)
		return err
	}
	defer listener.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate", server.generate)
	mux.HandleFunc("POST /tokenize", server.tokenize)
	mux.HandleFunc("/health", server.health)

	httpServer := http.Server{
		Handler: mux,
	}

	log.Println("Server listening on", addr)
	if err := httpServer.Serve(listener); err != nil {
		log.Fatal("server error:", err)
		return err
	}

	return nil
}
