package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/verdexhq/agentbridge/internal/cdptransport"
	agentconfig "github.com/verdexhq/agentbridge/internal/config"
	"github.com/verdexhq/agentbridge/internal/identity"
	"github.com/verdexhq/agentbridge/internal/router"
	"github.com/verdexhq/agentbridge/internal/transport"
)

var bridgeFactoryPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to a browser debugger endpoint and serve the agent-facing tool surface over stdio",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&bridgeFactoryPath, "bridge-factory", "", "path to the isolated-world bridge factory script (C2)")
	_ = viper.BindPFlag("bridge-factory", serveCmd.Flags().Lookup("bridge-factory"))
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()

	endpoint := viper.GetString("ws-endpoint")
	if endpoint == "" {
		return fmt.Errorf("serve: --ws-endpoint is required")
	}

	factoryPath := viper.GetString("bridge-factory")
	if factoryPath == "" {
		return fmt.Errorf("serve: --bridge-factory is required (path to the isolated-world helper factory script)")
	}
	factorySource, err := os.ReadFile(factoryPath)
	if err != nil {
		return fmt.Errorf("serve: read bridge factory %q: %w", factoryPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	conn, err := cdptransport.Dial(ctx, endpoint, log)
	if err != nil {
		return fmt.Errorf("serve: dial browser: %w", err)
	}
	defer conn.Close()

	ids := &agentconfig.Identities{Roles: map[string]agentconfig.RoleConfig{identity.DefaultRole: {}}}
	if cfgPath := cfgFile; cfgPath != "" {
		loaded, err := agentconfig.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("serve: load identities config: %w", err)
		}
		ids = loaded
	}

	worldBase := fmt.Sprintf("agentbridge_%s", uuid.NewString())
	idMgr := identity.New(conn, log, worldBase, string(factorySource), nil)
	idMgr.SetIdentitiesConfiguration(ids.Roles)

	rt := router.New(idMgr, log)
	idMgr.SetNavigateFunc(rt.BootstrapNavigate)

	srv := transport.NewServer(rt, idMgr)

	ok := color.New(color.FgGreen).SprintFunc()
	log.Infof("Serve:start", "%s endpoint:%s tools:%d", ok("ready"), endpoint, len(srv.Tools()))

	return serveStdio(ctx, srv)
}

// serveStdio is a minimal line-delimited JSON request/response loop: each
// input line is `{"tool": "...", "args": {...}}`, each output line is
// `{"result": ...}` or `{"error": "..."}`.
func serveStdio(ctx context.Context, srv *transport.Server) error {
	tools := make(map[string]transport.Tool)
	for _, t := range srv.Tools() {
		tools[t.Name] = t
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req struct {
			Tool string                 `json:"tool"`
			Args map[string]interface{} `json:"args"`
		}
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(map[string]string{"error": fmt.Sprintf("invalid request: %v", err)})
			continue
		}

		tool, ok := tools[req.Tool]
		if !ok {
			_ = enc.Encode(map[string]string{"error": fmt.Sprintf("unknown tool %q", req.Tool)})
			continue
		}

		result, err := tool.Execute(ctx, req.Args)
		if err != nil {
			_ = enc.Encode(map[string]string{"error": err.Error()})
			continue
		}
		_ = enc.Encode(map[string]interface{}{"result": result})
	}
	return scanner.Err()
}
