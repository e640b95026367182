// Ingress executable for the skill broker: the HTTP surface clients and
// operators submit execution requests and admin commands against.
//
// Maps to: spec.md §4.1 "Ingress API".
//
// Runs as a separate process from cmd/worker so the HTTP surface can scale
// and restart independently of the Temporal worker. It talks to the
// Request Store and Secret Vault directly for reads/admin writes, and to
// the Temporal client to start RequestWorkflow executions. It
// does not serve the inbound chat-event webhook — that depends on the
// pending-secret registry, which only cmd/worker can populate in-process
// (see internal/api.Server.ChatEventRoutes's doc comment).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"go.temporal.io/sdk/client"

	"github.com/mfateev/skillbroker/internal/api"
	"github.com/mfateev/skillbroker/internal/store"
	"github.com/mfateev/skillbroker/internal/temporalclient"
	"github.com/mfateev/skillbroker/internal/vault"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address for the Ingress API")
	baseURL := flag.String("base-url", "http://localhost:8080", "this Ingress API's externally reachable base URL, used for the code-view link in approval prompts")
	dbPath := flag.String("db", "broker.db", "path to the SQLite request store, shared with cmd/worker")
	temporalHost := flag.String("temporal-host", "", "Temporal server address (overrides envconfig)")
	temporalNamespace := flag.String("temporal-namespace", "", "Temporal namespace (overrides envconfig)")
	taskQueue := flag.String("task-queue", "skill-broker", "Temporal task queue RequestWorkflow executions are started on")
	flag.Parse()

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("open request store: %v", err)
	}
	defer st.Close()

	v := vault.New(st)
	if err := v.Hydrate(context.Background()); err != nil {
		log.Fatalf("hydrate secret vault: %v", err)
	}

	opts, err := temporalclient.LoadClientOptions(*temporalHost, *temporalNamespace)
	if err != nil {
		log.Fatalf("load Temporal client options: %v", err)
	}
	c, err := client.Dial(opts)
	if err != nil {
		log.Fatalf("create Temporal client: %v", err)
	}
	defer c.Close()

	srv := &api.Server{
		Store:       st,
		Vault:       v,
		Temporal:    c,
		TaskQueue:   *taskQueue,
		ViewBaseURL: *baseURL,
	}

	log.Printf("Ingress API listening on %s (task queue %q)", *addr, *taskQueue)
	if err := http.ListenAndServe(*addr, srv.PublicRoutes()); err != nil {
		log.Fatalf("ingress server stopped: %v", err)
	}
}
