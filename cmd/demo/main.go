package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ChuLiYu/jobwatch/internal/client"
	"github.com/ChuLiYu/jobwatch/internal/compiler"
	"github.com/ChuLiYu/jobwatch/internal/controller"
	"github.com/ChuLiYu/jobwatch/internal/filestore"
	"github.com/ChuLiYu/jobwatch/internal/render"
	"github.com/ChuLiYu/jobwatch/internal/server"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

const (
	okProgram  = "let x = 1 + 2;\nprint(x);\n"
	badProgram = "let x = 1 + \"two\";\nprint(x);\n"
)

// phase is one step of the simulated pipeline.
type phase struct {
	name, description string
	delay             time.Duration
}

var pipeline = []phase{
	{"Lexical Analysis", "Splitting source into tokens", 300 * time.Millisecond},
	{"Parsing", "Building the syntax tree", 300 * time.Millisecond},
	{"Semantic Analysis", "Checking types and scopes", 400 * time.Millisecond},
	{"Code Generation", "Emitting bytecode", 300 * time.Millisecond},
}

// simulate walks the pipeline. A string literal in an arithmetic
// expression fails semantic analysis.
func simulate(ctx context.Context, source string, sink compiler.Sink) error {
	for _, p := range pipeline {
		sink.StartPhase(p.name, p.description)
		sink.Line(fmt.Sprintf("[%s] %s...", p.name, p.description), types.SeverityInfo)

		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			sink.EndPhase(p.name, "cancelled", true)
			return ctx.Err()
		}

		if p.name == "Semantic Analysis" && strings.Contains(source, `+ "`) {
			sink.EndPhase(p.name, "type mismatch", true)
			sink.Line(`TypeError: cannot add int and string on line 1`, types.SeverityError)
			code := `let x = 1 + "two";`
			sink.Insight("Mixed operand types", &code,
				"The + operator needs two numbers. Convert the string with int() first.")
			return nil
		}
		sink.EndPhase(p.name, "ok", false)
	}

	sink.Line("3", types.SeveritySuccess)
	sink.Insight("Constant folding", nil, "1 + 2 is evaluated at compile time.")
	return nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/demo/main.go <ok|error|supersede>")
		os.Exit(1)
	}
	mode := os.Args[1]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, err := os.MkdirTemp("", "jobwatch-demo-*")
	if err != nil {
		log.Fatalf("Failed to create workspace: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := filestore.NewFSStore(dir)
	if err != nil {
		log.Fatalf("Failed to open file store: %v", err)
	}

	cfg := server.DefaultConfig()
	cfg.WorkspaceDir = dir
	cfg.StartupStepDelay = 0

	srv := server.New(cfg, compiler.Func(simulate), store)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	defer srv.Stop()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}
	httpSrv := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	defer httpSrv.Close()

	baseURL := "http://" + lis.Addr().String()
	fmt.Printf("✓ Server started at %s (mode: %s)\n\n", baseURL, mode)

	term := render.NewTerminal(os.Stdout)
	ctrl := controller.NewController(client.New(baseURL), controller.Config{
		PollInterval:        200 * time.Millisecond,
		MaxPollDuration:     5 * time.Second,
		PollOnSubmitFailure: true,
	}, controller.WithRenderer(term))

	switch mode {
	case "ok":
		run(ctx, ctrl, okProgram)
	case "error":
		run(ctx, ctrl, badProgram)
	case "supersede":
		if _, err := ctrl.Compile(ctx, badProgram); err != nil {
			log.Fatalf("Compile failed: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
		fmt.Println("\n⚡ Submitting again before the first job finishes...")
		run(ctx, ctrl, okProgram)
	default:
		log.Fatalf("Unknown mode %q", mode)
	}

	stats := srv.Jobs().Stats()
	fmt.Printf("\n📊 Jobs: Completed=%d, Failed=%d\n", stats["completed"], stats["failed"])
}

func run(ctx context.Context, ctrl *controller.Controller, source string) {
	if _, err := ctrl.Compile(ctx, source); err != nil {
		log.Fatalf("Compile failed: %v", err)
	}
	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		ctrl.Stop()
		fmt.Println("\n\nReceived shutdown signal, stopping...")
	}
}
