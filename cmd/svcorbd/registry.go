package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"svcorb/internal/clusterstate"
	"svcorb/internal/heartbeat"
	"svcorb/internal/ldap"
	"svcorb/internal/listener"
	"svcorb/internal/orchestrator"
	"svcorb/internal/quorum"
	"svcorb/internal/security"
)

// buildHeartbeatDrivers constructs one heartbeat.Driver per [hb#*] section
// cfg declared, skipping a driver whose construction fails rather than
// aborting startup (a single bad transport should not prevent the others
// from carrying liveness).
func buildHeartbeatDrivers(cfg *clusterConfig, self string) []heartbeat.Driver {
	var drivers []heartbeat.Driver
	for _, d := range cfg.HBDrivers {
		switch d.Kind {
		case "unicast":
			drv, err := heartbeat.NewUnicastDriver(d.Listen, d.Peers)
			if err != nil {
				log.Printf("svcorbd: unicast driver: %v", err)
				continue
			}
			drivers = append(drivers, drv)
		case "multicast":
			drv, err := heartbeat.NewMulticastDriver(d.MulticastAddr, d.MulticastIface)
			if err != nil {
				log.Printf("svcorbd: multicast driver: %v", err)
				continue
			}
			drivers = append(drivers, drv)
		case "disk":
			drv, err := heartbeat.NewDiskDriver(d.DiskPath, d.DiskSelfSlot, d.DiskPeerSlots, cfg.HBPeriod)
			if err != nil {
				log.Printf("svcorbd: disk driver: %v", err)
				continue
			}
			drivers = append(drivers, drv)
		case "relay":
			drivers = append(drivers, heartbeat.NewRelayDriver(d.RelayURL, self, d.RelayPeers, cfg.HBPeriod))
		}
	}
	return drivers
}

// buildListenerRegistry registers the envelope RPC actions spec.md §6/§4.8
// expose: object lifecycle transitions (writing global_expect through the
// store, which the orchestrator's next Tick reconciles), cluster/node
// introspection, and the operator login bridge onto LDAP.
func buildListenerRegistry(
	orch *orchestrator.Orchestrator,
	store *clusterstate.Store,
	bus interface{ SubscriberCount() int },
	evaluator *quorum.Evaluator,
	supervisor *heartbeat.Supervisor,
	access *security.ClusterAccess,
	ldapClient *ldap.Client,
	ldapCfg *ldap.Config,
) *listener.Registry {
	reg := listener.NewRegistry()

	objectsRead := listener.AccessPolicy{Role: "viewer"}
	objectsWrite := listener.AccessPolicy{Role: "operator"}
	objectsPurge := listener.AccessPolicy{Role: "admin"}
	nodesRead := listener.AccessPolicy{Role: "viewer"}
	quorumRead := listener.AccessPolicy{Role: "viewer"}

	setExpect := func(path string, expect orchestrator.GlobalExpect) error {
		now := time.Now().UnixNano()
		if _, err := store.UpdateLocal([]string{"services", path, "global_expect"}, string(expect)); err != nil {
			return err
		}
		_, err := store.UpdateLocal([]string{"services", path, "global_expect_at"}, now)
		return err
	}

	objectAction := func(name string, policy listener.AccessPolicy, expect orchestrator.GlobalExpect) {
		reg.Register(&listener.Handler{
			Method: "POST",
			Name:   name,
			Policy: policy,
			Params: []listener.ParamSchema{{Name: "path", Type: "string", Required: true}},
			Fn: func(ctx context.Context, req listener.Request, stream listener.Streamer) (interface{}, error) {
				path, _ := req.Options["path"].(string)
				if path == "" {
					return nil, fmt.Errorf("%s: missing path", name)
				}
				if err := setExpect(path, expect); err != nil {
					return nil, fmt.Errorf("%s %s: %w", name, path, err)
				}
				return map[string]string{"path": path, "global_expect": string(expect)}, nil
			},
		})
	}

	objectAction("start", objectsWrite, orchestrator.ExpectStarted)
	objectAction("stop", objectsWrite, orchestrator.ExpectStopped)
	objectAction("freeze", objectsWrite, orchestrator.ExpectFrozen)
	objectAction("thaw", objectsWrite, orchestrator.ExpectThawed)
	objectAction("provision", objectsWrite, orchestrator.ExpectProvisioned)
	objectAction("unprovision", objectsPurge, orchestrator.ExpectUnprovisioned)
	objectAction("purge", objectsPurge, orchestrator.ExpectPurged)

	reg.Register(&listener.Handler{
		Method: "GET",
		Name:   "status",
		Policy: objectsRead,
		Fn: func(ctx context.Context, req listener.Request, stream listener.Streamer) (interface{}, error) {
			return store.Snapshot(), nil
		},
	})

	reg.Register(&listener.Handler{
		Method: "GET",
		Name:   "node_status",
		Policy: nodesRead,
		Fn: func(ctx context.Context, req listener.Request, stream listener.Streamer) (interface{}, error) {
			tree := store.Snapshot()
			return tree.Nodes, nil
		},
	})

	reg.Register(&listener.Handler{
		Method: "GET",
		Name:   "quorum_status",
		Policy: quorumRead,
		Fn: func(ctx context.Context, req listener.Request, stream listener.Streamer) (interface{}, error) {
			result := evaluator.Evaluate(supervisor.LiveVotes())
			return result, nil
		},
	})

	reg.Register(&listener.Handler{
		Method: "POST",
		Name:   "set_maintenance",
		Policy: listener.AccessPolicy{Role: "admin"},
		Params: []listener.ParamSchema{
			{Name: "node", Type: "string", Required: true},
			{Name: "duration", Type: "string", Required: false, Default: "60s"},
		},
		Fn: func(ctx context.Context, req listener.Request, stream listener.Streamer) (interface{}, error) {
			node, _ := req.Options["node"].(string)
			durStr, _ := req.Options["duration"].(string)
			dur, err := time.ParseDuration(durStr)
			if err != nil {
				return nil, fmt.Errorf("set_maintenance: bad duration %q: %w", durStr, err)
			}
			orch.AnnounceMaintenance(node, time.Now().Add(dur))
			return map[string]string{"node": node}, nil
		},
	})

	if ldapClient != nil && ldapCfg != nil {
		reg.Register(&listener.Handler{
			Method: "POST",
			Name:   "login",
			Policy: listener.AccessPolicy{}, // open: this is the auth entry point itself
			Params: []listener.ParamSchema{
				{Name: "username", Type: "string", Required: true},
				{Name: "password", Type: "string", Required: true},
			},
			Fn: func(ctx context.Context, req listener.Request, stream listener.Streamer) (interface{}, error) {
				username, _ := req.Options["username"].(string)
				password, _ := req.Options["password"].(string)
				user, err := security.AuthenticateOperator(ldapClient, ldapCfg, access, username, password)
				if err != nil {
					return nil, err
				}
				if err := security.EnsureUser(user.Username, user.Email); err != nil {
					return nil, fmt.Errorf("login: provision user: %w", err)
				}
				token, err := security.CreateSession(user.Username, 8*time.Hour)
				if err != nil {
					return nil, fmt.Errorf("login: create session: %w", err)
				}
				return map[string]interface{}{"username": user.Username, "groups": user.Groups, "session": token}, nil
			},
		})
	}

	return reg
}
