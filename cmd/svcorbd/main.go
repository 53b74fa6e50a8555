// Command svcorbd is the clustered service-management agent daemon: the
// heartbeat fabric, cluster state store, event bus, envelope RPC listener,
// and orchestrator, each run as its own goroutine sharing one
// context.Context cancellation token rather than per-goroutine stopChan
// fields, since the daemon coordinates several concurrent background
// tasks (heartbeat tick, orchestrator tick, scheduler tick, RPC server,
// HTTP server, websocket hub) that all need to wind down together.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"svcorb/internal/audit"
	"svcorb/internal/clusterstate"
	"svcorb/internal/cmdutil"
	"svcorb/internal/eventbus"
	"svcorb/internal/heartbeat"
	"svcorb/internal/ldap"
	"svcorb/internal/listener"
	"svcorb/internal/middleware"
	"svcorb/internal/notify"
	"svcorb/internal/orchestrator"
	"svcorb/internal/quorum"
	"svcorb/internal/scheduler"
	"svcorb/internal/security"
	"svcorb/internal/storeutil"
	"svcorb/internal/wsmonitor"
)

const Version = "1.0.0"

// shutdownGrace bounds how long in-flight Tick/Serve work gets to unwind
// after a shutdown signal, per spec.md §5.
const shutdownGrace = 5 * time.Second

func main() {
	nodeConfPath := flag.String("config", "/etc/svcorb/cluster.conf", "path to the cluster config file")
	nodeName := flag.String("node", "", "this node's name (default: hostname)")
	dbPath := flag.String("db", "/var/lib/svcorb/svcorb.db", "path to the SQLite identity/audit database")
	auditKeyPath := flag.String("audit-key", "/var/lib/svcorb/audit.key", "path to the audit HMAC chain key")
	rpcAddr := flag.String("rpc-listen", ":1215", "envelope RPC listen address")
	httpAddr := flag.String("http-listen", ":1214", "auxiliary HTTP (health/metrics/websocket) listen address")
	varDir := flag.String("var", "/var/lib/svcorb", "scheduler last-run timestamp directory")
	nodeUUIDPath := flag.String("node-uuid", "/var/lib/svcorb/node.uuid", "path to this node's persistent identity file")
	objectsDir := flag.String("objects-dir", "/etc/svcorb/objects", "directory of per-object configuration files")
	flag.Parse()

	self := *nodeName
	if self == "" {
		host, err := os.Hostname()
		if err != nil {
			log.Fatalf("svcorbd: determine hostname: %v", err)
		}
		self = host
	}

	cfg, err := loadClusterConfig(*nodeConfPath, self)
	if err != nil {
		log.Fatalf("svcorbd: config: %v", err)
	}

	nodeUUID, err := loadOrCreateNodeUUID(*nodeUUIDPath)
	if err != nil {
		log.Fatalf("svcorbd: node uuid: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── identity/RBAC/audit database ──
	db, err := storeutil.Open(*dbPath, storeutil.Options{SharedCache: true})
	if err != nil {
		log.Fatalf("svcorbd: open database: %v", err)
	}
	defer db.Close()
	if err := initSchema(db); err != nil {
		log.Fatalf("svcorbd: schema init: %v", err)
	}
	security.SetDatabase(db)
	if err := security.InitDatabase(*dbPath); err != nil {
		log.Fatalf("svcorbd: session database: %v", err)
	}
	defer security.CloseDatabase()

	auditKey, err := audit.LoadOrCreateAuditKey(*auditKeyPath)
	if err != nil {
		log.Printf("svcorbd: WARNING audit HMAC key unavailable (%v), chain disabled", err)
		auditKey = nil
	}
	auditLogger := audit.NewBufferedLogger(db, 100, 5*time.Second, auditKey)
	auditLogger.Start()
	defer auditLogger.Stop()

	// ── scheduled maintenance tasks (wal checkpoint), per spec.md §4.2's
	// schedule DSL and <var>/<task>.last persistence ──
	walSchedule, err := scheduler.Parse("@5")
	if err != nil {
		log.Fatalf("svcorbd: wal checkpoint schedule: %v", err)
	}
	sched := scheduler.NewRunner(scheduler.NewStore(*varDir), []scheduler.Task{
		{
			Name:     "wal_checkpoint",
			Schedule: walSchedule,
			Run: func() error {
				_, err := db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
				return err
			},
		},
	})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				sched.Tick(now)
			}
		}
	}()

	clusterName := cfg.ClusterName
	secret := []byte(cfg.Secret)

	// ── heartbeat drivers + supervisor ──
	drivers := buildHeartbeatDrivers(cfg, self)
	if len(drivers) == 0 {
		log.Printf("svcorbd: no heartbeat drivers configured, running single-node")
	}
	supervisor := heartbeat.NewSupervisor(drivers, cfg.HBTimeout)

	store := clusterstate.NewStore(self)
	supervisor.OnStale = func(peer string) {
		store.ForgetPeer(peer)
	}
	supervisor.OnBeating = func(peer string) {
		broadcastFull(supervisor, secret, clusterName, self, store)
	}
	if _, err := store.UpdateLocal([]string{"labels", "uuid"}, nodeUUID); err != nil {
		log.Printf("svcorbd: publish node uuid: %v", err)
	}

	// ── quorum & arbitrator ──
	var arbitrators []quorum.Arbitrator
	for _, a := range cfg.Arbitrators {
		arbitrators = append(arbitrators, quorum.Arbitrator{Name: a.Name, URL: a.URL, Secret: secret})
	}

	var notifier notify.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier = notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
	} else {
		notifier = notify.Log{Write: func(level notify.Level, title, message string) {
			log.Printf("notify[%s]: %s: %s", level, title, message)
		}}
	}

	evaluator := quorum.NewEvaluator(cfg.QuorumEnabled, len(cfg.Nodes), arbitrators, func(reason string) {
		notifier.Notify(notify.LevelCritical, "quorum lost", reason, map[string]string{"node": self})
		log.Printf("svcorbd: quorum lost, suicide hook fired: %s", reason)
	})

	// ── event bus + websocket fan-out ──
	bus := eventbus.New(self)
	store.OnPatch(func(peer string, patch clusterstate.Patch) {
		bus.PublishPatch(eventbus.PatchMessage{NodeName: peer, Gen: store.StoredGen(peer), Patch: patch})
		if peer == self {
			// fan this local mutation out to every peer over the heartbeat
			// fabric, sealed the same way the RPC listener seals responses
			broadcastPatch(supervisor, secret, clusterName, self, store.LocalGen(), patch)
		}
	})
	hub := wsmonitor.NewHub(bus)
	hubDone := make(chan struct{})
	go hub.Run(hubDone)

	// ── orchestrator ──
	orch := orchestrator.New(store, self, time.Now())
	orch.NotifyMonitorAction = func(objectPath string, action orchestrator.MonitorAction) {
		notifier.Notify(notify.LevelCritical, "monitor_action", fmt.Sprintf("%s escalated to %s", objectPath, action), map[string]string{"node": self})
		runMonitorAction(action)
	}
	for _, obj := range loadObjects(*objectsDir, self) {
		orch.AddObject(obj)
		log.Printf("svcorbd: loaded object %s (cluster_type=%s)", obj.Path, obj.ClusterType)
	}

	// ── RBAC/RPC access control ──
	access := security.NewClusterAccess(nil)
	for _, n := range cfg.Nodes {
		access.SetRole(n, "peer")
	}
	access.SetRole(self, "admin")

	ldapClient, ldapCfg := loadLDAP(cfg)

	registry := buildListenerRegistry(orch, store, bus, evaluator, supervisor, access, ldapClient, ldapCfg)
	rpcServer, err := listener.NewServer(*rpcAddr, clusterName, secret, registry, access)
	if err != nil {
		log.Fatalf("svcorbd: rpc listen: %v", err)
	}

	// ── sender blacklist: repeated forged envelopes from the same
	// claimed node name get blocked rather than retried forever, per
	// spec.md §7's AuthError handling ──
	blacklist := security.NewSenderBlacklist(5, 10*time.Minute)
	rpcServer.IsBlocked = blacklist.IsBlocked
	rpcServer.OnAuthFailure = func(sender string) {
		if blacklist.RecordFailure(sender) {
			log.Printf("svcorbd: sender %s blacklisted after repeated auth failures", sender)
		}
	}
	go func() {
		if err := rpcServer.Serve(ctx); err != nil {
			log.Printf("svcorbd: rpc server stopped: %v", err)
		}
	}()

	// ── heartbeat payload pipeline: each driver's Recv loop opens the
	// sealed envelope it carries and applies it to store, the C3→C6 leg
	// of spec.md §4.6 that BroadcastAll/OnPatch/OnBeating feed on the send
	// side ──
	for _, d := range drivers {
		go hbReceiveLoop(ctx, d, secret, clusterName, self, store, blacklist.IsBlocked, func(sender string) {
			if blacklist.RecordFailure(sender) {
				log.Printf("svcorbd: heartbeat sender %s blacklisted after repeated auth failures", sender)
			}
		})
	}
	broadcastFull(supervisor, secret, clusterName, self, store)

	// ── heartbeat tick + orchestrator tick ──
	go heartbeatLoop(ctx, supervisor, secret, clusterName, self, store, cfg.HBPeriod)
	go orchestratorLoop(ctx, orch, evaluator, supervisor, cfg.HBPeriod)

	// ── auxiliary HTTP surface: health, metrics, websocket ──
	router := mux.NewRouter()
	router.HandleFunc("/health", middleware.HealthHandler(Version, self, time.Now(), func() bool { return !evaluator.Halted() })).Methods("GET")
	router.HandleFunc("/metrics", middleware.MetricsHandler(func() middleware.Metrics {
		tree := store.Snapshot()
		started := 0
		for _, s := range tree.Services {
			if s.Avail == "up" {
				started++
			}
		}
		return middleware.Metrics{
			LiveVotes:      supervisor.LiveVotes(),
			Subscribers:    bus.SubscriberCount(),
			ObjectsTotal:   len(tree.Services),
			ObjectsStarted: started,
		}
	})).Methods("GET")
	router.HandleFunc("/ws/monitor", func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("svcorbd: websocket upgrade: %v", err)
			return
		}
		hub.Register(conn)
	})

	// ── session-authenticated read-only HTTP mirrors of the RPC listener's
	// status actions, gated by the users/roles/permissions RBAC chain
	// (internal/middleware, internal/security/rbac.go) rather than
	// ClusterAccess's peer-name roles — for an operator UI reached by
	// browser session rather than a cluster-secret envelope ──
	apiJSON := func(resource, action string, fn func() interface{}) http.Handler {
		return middleware.RequireAuth(middleware.RequirePermission(resource, action)(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(fn())
			},
		)))
	}
	router.Handle("/api/status", apiJSON("objects", "read", func() interface{} { return store.Snapshot() })).Methods("GET")
	router.Handle("/api/nodes", apiJSON("nodes", "read", func() interface{} { return store.Snapshot().Nodes })).Methods("GET")
	router.Handle("/api/quorum", apiJSON("quorum", "read", func() interface{} { return evaluator.Evaluate(supervisor.LiveVotes()) })).Methods("GET")
	registerRoleRoutes(router)

	httpSrv := &http.Server{
		Addr:         *httpAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Printf("svcorbd: auxiliary HTTP listening on %s", *httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("svcorbd: http server: %v", err)
		}
	}()

	auditLogger.Log(audit.AuditEvent{Timestamp: time.Now().Unix(), User: "system", Action: "daemon_start", Resource: self, Success: true})
	log.Printf("svcorbd v%s node=%s (%s) cluster=%s starting (rpc=%s http=%s)", Version, self, nodeUUID, clusterName, *rpcAddr, *httpAddr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("svcorbd: shutting down gracefully")
	auditLogger.Log(audit.AuditEvent{Timestamp: time.Now().Unix(), User: "system", Action: "daemon_stop", Resource: self, Success: true})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	close(hubDone)
	cancel()
}

// fullResyncEvery bounds how often a node re-broadcasts its entire subtree
// rather than relying solely on the per-change patch stream, so a peer
// whose patch stream developed an undetected gap still converges.
const fullResyncEvery = 12

// heartbeatLoop ticks the supervisor every period until ctx is canceled,
// and every fullResyncEvery ticks re-broadcasts self's full subtree as a
// resync safety net alongside the real-time patch stream OnPatch drives.
func heartbeatLoop(ctx context.Context, sup *heartbeat.Supervisor, secret []byte, clusterName, self string, store *clusterstate.Store, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sup.Tick(now)
			ticks++
			if ticks%fullResyncEvery == 0 {
				broadcastFull(sup, secret, clusterName, self, store)
			}
		}
	}
}

// orchestratorLoop evaluates quorum then ticks the orchestrator every
// heartbeat period, per spec.md §4.9's "one orchestration pass per hb tick".
func orchestratorLoop(ctx context.Context, orch *orchestrator.Orchestrator, eval *quorum.Evaluator, sup *heartbeat.Supervisor, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			result := eval.Evaluate(sup.LiveVotes())
			orch.Tick(ctx, now, result.Held)
		}
	}
}

// runMonitorAction executes the escalation an exhausted restart budget
// requires. reboot is the one action with an unambiguous, safe-to-name
// command (systemctl reboot), run via cmdutil.RunNoTimeout since a reboot
// call is not expected to return on success; crash and freezestop
// mechanics are host-specific and out of scope (spec.md §1 Non-goals),
// so they stay log-only.
func runMonitorAction(action orchestrator.MonitorAction) {
	switch action {
	case orchestrator.ActionReboot:
		log.Printf("svcorbd: monitor_action reboot requested")
		if out, err := cmdutil.RunNoTimeout("systemctl", "reboot"); err != nil {
			log.Printf("svcorbd: reboot command failed: %v (%s)", err, out)
		}
	case orchestrator.ActionCrash:
		log.Printf("svcorbd: monitor_action crash requested")
	case orchestrator.ActionFreezeStop:
		log.Printf("svcorbd: monitor_action freezestop requested")
	}
}

// loadLDAP builds an ldap.Client from the cluster config's ldap.* keywords,
// returning (nil, nil) if LDAP is not configured.
func loadLDAP(cfg *clusterConfig) (*ldap.Client, *ldap.Config) {
	if cfg.LDAP == nil || !cfg.LDAP.Enabled {
		return nil, nil
	}
	client, err := ldap.NewClient(cfg.LDAP)
	if err != nil {
		log.Printf("svcorbd: ldap client: %v", err)
		return nil, nil
	}
	return client, cfg.LDAP
}
