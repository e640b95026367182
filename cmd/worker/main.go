// Worker executable for the skill broker.
//
// Starts a Temporal worker registered against the Approval Coordinator and
// Background Janitor workflows, and constructs the activity dependencies
// they suspend on: Request Store, Secret Vault, Trust Cache, chat
// collaborator, Sandbox Executor, network policy, and notification emitter.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/mfateev/skillbroker/internal/activities"
	"github.com/mfateev/skillbroker/internal/api"
	"github.com/mfateev/skillbroker/internal/chat"
	"github.com/mfateev/skillbroker/internal/netpolicy"
	"github.com/mfateev/skillbroker/internal/notify"
	"github.com/mfateev/skillbroker/internal/pending"
	"github.com/mfateev/skillbroker/internal/sandbox"
	"github.com/mfateev/skillbroker/internal/store"
	"github.com/mfateev/skillbroker/internal/temporalclient"
	"github.com/mfateev/skillbroker/internal/trust"
	"github.com/mfateev/skillbroker/internal/vault"
	"github.com/mfateev/skillbroker/internal/workflow"
)

const TaskQueue = "skill-broker"

func main() {
	dbPath := flag.String("db", "broker.db", "path to the SQLite request store")
	temporalHost := flag.String("temporal-host", "", "Temporal server address (overrides envconfig)")
	temporalNamespace := flag.String("temporal-namespace", "", "Temporal namespace (overrides envconfig)")
	netPolicyFile := flag.String("network-policy", "", "path to a Starlark network allow-list file; empty permits every host")
	chatWebhookURL := flag.String("chat-webhook-url", "", "outbound webhook URL the chat transport adapter listens on")
	notifyWebhookURL := flag.String("notify-webhook-url", "", "webhook URL notifications are POSTed to")
	notifyFallbackPath := flag.String("notify-fallback-file", "broker-notifications.log", "file notifications are appended to when the webhook is unset or fails")
	interpreter := flag.String("interpreter", "bash", "interpreter skills are executed under")
	retentionDays := flag.Int("retention-days", 0, "days a terminal request is kept before the Janitor prunes it; 0 disables pruning")
	chatEventAddr := flag.String("chat-event-addr", ":8090", "listen address for the inbound chat-event webhook")
	directMode := flag.Bool("direct-mode", false, "run skills under a directly allocated pty, merging stdout and stderr; the sandbox backend still wraps the command")
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

	trustCache := trust.New(st)

	var netPolicy *netpolicy.Policy
	if *netPolicyFile != "" {
		src, err := os.ReadFile(*netPolicyFile)
		if err != nil {
			log.Fatalf("read network policy %s: %v", *netPolicyFile, err)
		}
		netPolicy, err = netpolicy.Load(*netPolicyFile, string(src))
		if err != nil {
			log.Fatalf("load network policy: %v", err)
		}
	} else {
		netPolicy = netpolicy.NewAllowAll()
	}

	var collab chat.Collaborator
	if *chatWebhookURL != "" {
		collab = chat.NewWebhookCollaborator(*chatWebhookURL)
	} else {
		log.Println("no -chat-webhook-url set: chat operations will be kept in memory only")
		collab = chat.NewFakeCollaborator()
	}

	notifier := notify.NewNotifier(*notifyWebhookURL, *notifyFallbackPath)
	pendingRegistry := pending.NewRegistry()

	opts, err := temporalclient.LoadClientOptions(*temporalHost, *temporalNamespace)
	if err != nil {
		log.Fatalf("load Temporal client options: %v", err)
	}
	c, err := client.Dial(opts)
	if err != nil {
		log.Fatalf("create Temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, TaskQueue, worker.Options{})

	w.RegisterWorkflow(workflow.RequestWorkflow)
	w.RegisterWorkflow(workflow.JanitorWorkflow)

	broker := &activities.BrokerActivities{
		Store:       st,
		Vault:       v,
		Trust:       trustCache,
		Executor:    sandbox.NewExecutor(sandbox.NewSandboxManager()),
		Collab:      collab,
		Notifier:    notifier,
		NetPolicy:   netPolicy,
		Pending:     pendingRegistry,
		Interpreter: []string{*interpreter},
		Direct:      *directMode,
	}
	w.RegisterActivity(broker.LookupTrust)
	w.RegisterActivity(broker.AddTrust)
	w.RegisterActivity(broker.Transition)
	w.RegisterActivity(broker.AttachChatHandle)
	w.RegisterActivity(broker.SetResult)
	w.RegisterActivity(broker.MissingSecrets)
	w.RegisterActivity(broker.SecretPresence)
	w.RegisterActivity(broker.PutSecret)
	w.RegisterActivity(broker.SendPrompt)
	w.RegisterActivity(broker.EditPrompt)
	w.RegisterActivity(broker.DeleteMessage)
	w.RegisterActivity(broker.ExecuteSkill)
	w.RegisterActivity(broker.Notify)
	w.RegisterActivity(broker.SweepAll)

	if err := startJanitor(context.Background(), c, *retentionDays); err != nil {
		log.Printf("start janitor workflow: %v (continuing without it)", err)
	}

	// The chat-event webhook lives in this process because it depends on
	// the same pending-secret registry the SendPrompt activity populates
	// (internal/pending), which is only meaningful in-process.
	chatEventServer := &api.Server{Temporal: c, Pending: pendingRegistry}
	go func() {
		log.Printf("chat-event webhook listening on %s", *chatEventAddr)
		if err := http.ListenAndServe(*chatEventAddr, chatEventServer.ChatEventRoutes()); err != nil {
			log.Printf("chat-event webhook server stopped: %v", err)
		}
	}()

	log.Printf("starting worker on task queue %q (db=%s)", TaskQueue, *dbPath)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker stopped with error: %v", err)
	}
	log.Println("worker stopped")
}

// startJanitor starts the Background Janitor under a fixed workflow id so
// restarting the worker never spawns a second, concurrent sweep loop —
// Temporal rejects a start against a running workflow id by default.
func startJanitor(ctx context.Context, c client.Client, retentionDays int) error {
	var retention time.Duration
	if retentionDays > 0 {
		retention = time.Duration(retentionDays) * 24 * time.Hour
	}
	_, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "skill-broker-janitor",
		TaskQueue: TaskQueue,
	}, workflow.JanitorWorkflow, workflow.JanitorWorkflowInput{
		RetentionHorizon: retention,
	})
	return err
}
