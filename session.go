package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Commvault/cvpysdk-sub002/commcell"
	"github.com/Commvault/cvpysdk-sub002/dr"
	"github.com/Commvault/cvpysdk-sub002/internal/exporter"
	"github.com/Commvault/cvpysdk-sub002/internal/models"
	"github.com/Commvault/cvpysdk-sub002/network"
	"github.com/Commvault/cvpysdk-sub002/security"
	"github.com/Commvault/cvpysdk-sub002/storage"
	"github.com/Commvault/cvpysdk-sub002/tags"
	"github.com/Commvault/cvpysdk-sub002/transport"
	"github.com/Commvault/cvpysdk-sub002/vsa"
)

const breakerTimeout = 30 * time.Second // How long an open circuit breaker rejects requests

// session is one authenticated connection to a Commcell.
type session struct {
	cfg    models.ImmutableConfig
	client *transport.Client
	cc     *commcell.Commcell
	cols   []collection
}

// newSession builds the transport and the Commcell from cfg. opts are added
// after the ones derived from the configuration.
func newSession(cfg models.ImmutableConfig, opts ...transport.ClientOption) *session {
	clientOpts := []transport.ClientOption{
		transport.WithRateLimit(cfg.RequestsPerSecond(), 1),
	}
	if n := cfg.BreakerFailures(); n > 0 {
		clientOpts = append(clientOpts, transport.WithCircuitBreaker(n, breakerTimeout))
	}
	clientOpts = append(clientOpts, opts...)

	client := transport.NewClient(transport.Config{
		BaseURL:            cfg.WebServiceURL(),
		AuthToken:          cfg.AuthToken(),
		InsecureSkipVerify: cfg.InsecureSkipVerify(),
		Timeout:            cfg.Timeout(),
		RetryCount:         cfg.RetryCount(),
	}, clientOpts...)

	sess := &session{
		cfg:    cfg,
		client: client,
		cc:     commcell.New(client, commcell.WithCacheTTL(cfg.CacheTTL())),
	}
	sess.cols = sess.buildCollections()
	return sess
}

// Close releases the transport.
func (s *session) Close() error {
	return s.client.Close()
}

// backupset returns a VSA backupset using the configured browse retry budget.
func (s *session) backupset(entity vsa.Entity) *vsa.Backupset {
	return vsa.NewBackupset(s.cc, entity, vsa.WithBrowseRetry(s.cfg.BrowseRetryDelay(), s.cfg.BrowseMaxAttempts()))
}

// entry is one row of `cvsdk list`.
type entry struct {
	name   string
	id     string
	detail string
}

// collection is a named SDK collection that can be listed and counted.
type collection struct {
	name   string
	source exporter.Source
	list   func(ctx context.Context) ([]entry, error)
}

// indexed adapts a name-keyed collection. describe turns a value into its id
// and an optional detail column.
func indexed[V any](
	name string,
	refresh func(context.Context) error,
	all func(context.Context) (map[string]V, error),
	describe func(V) (id, detail string),
) collection {
	return collection{
		name:   name,
		source: exporter.FromCollection(name, refresh, all),
		list: func(ctx context.Context) ([]entry, error) {
			if err := refresh(ctx); err != nil {
				return nil, err
			}
			m, err := all(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]entry, 0, len(m))
			for n, v := range m {
				id, detail := describe(v)
				out = append(out, entry{name: n, id: id, detail: detail})
			}
			sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
			return out, nil
		},
	}
}

func plainID(id string) (string, string) { return id, "" }

// buildCollections returns every listable collection, in `cvsdk list` order.
func (s *session) buildCollections() []collection {
	cc := s.cc
	roles := security.NewRoles(cc)
	domains := security.NewDomains(cc)
	identityApps := security.NewIdentityManagementApps(cc)
	kms := security.NewKeyManagementServers(cc)
	pools := storage.NewStoragePools(cc)
	regions := storage.NewRegions(cc)
	resourcePools := storage.NewResourcePools(cc)
	topologies := network.NewNetworkTopologies(cc)
	entityTags := tags.NewTags(cc)
	cleanroom := dr.NewCleanroomTargets(cc)
	failover := dr.NewFailoverGroups(cc)
	recovery := dr.NewRecoveryGroups(cc)
	policies := vsa.NewVMPolicies(cc)

	kmsNames := func(ctx context.Context) ([]string, error) {
		if err := kms.Refresh(ctx); err != nil {
			return nil, err
		}
		return kms.Names(ctx)
	}

	return []collection{
		indexed("roles", roles.Refresh, roles.All, plainID),
		indexed("domains", domains.Refresh, domains.All, func(d security.DomainProvider) (string, string) {
			return d.ShortName.ID.String(), d.ConnectName
		}),
		indexed("storagepools", pools.Refresh, pools.All, plainID),
		indexed("topologies", topologies.Refresh, topologies.All, plainID),
		indexed("regions", regions.Refresh, regions.All, plainID),
		indexed("tags", entityTags.Refresh, entityTags.All, plainID),
		indexed("resourcepools", resourcePools.Refresh, resourcePools.All, func(p storage.ResourcePoolInfo) (string, string) {
			return p.ID.String(), "appType " + p.AppType.String()
		}),
		{
			name: "kms",
			source: exporter.NewSource("kms", func(ctx context.Context) (int, error) {
				names, err := kmsNames(ctx)
				return len(names), err
			}),
			list: func(ctx context.Context) ([]entry, error) {
				names, err := kmsNames(ctx)
				if err != nil {
					return nil, err
				}
				out := make([]entry, 0, len(names))
				for _, n := range names {
					srv, err := kms.Get(ctx, n)
					if err != nil {
						return nil, err
					}
					out = append(out, entry{name: n, id: strconv.Itoa(srv.ID()), detail: srv.TypeName()})
				}
				sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
				return out, nil
			},
		},
		indexed("cleanroomtargets", cleanroom.Refresh, cleanroom.All, plainID),
		indexed("identityapps", identityApps.Refresh, identityApps.All, func(a security.IdentityAppInfo) (string, string) {
			detail := "disabled"
			if a.IsEnabled {
				detail = "enabled"
			}
			return a.AppKey, detail
		}),
		indexed("failovergroups", failover.Refresh, failover.All, func(g dr.FailoverGroupInfo) (string, string) {
			return g.ID, fmt.Sprintf("operation %d, replication %d", int(g.OperationType), int(g.ReplicationType))
		}),
		indexed("recoverygroups", recovery.Refresh, recovery.All, plainID),
		indexed("vmpolicies", policies.Refresh, policies.All, func(p vsa.PolicyRef) (string, string) {
			return p.ID, fmt.Sprintf("type %d", int(p.Type))
		}),
	}
}

// collection looks a collection up by its `cvsdk list` name.
func (s *session) collection(name string) (collection, bool) {
	for _, c := range s.cols {
		if c.name == name {
			return c, true
		}
	}
	return collection{}, false
}

// collectionNames lists the names accepted by `cvsdk list`.
func collectionNames() []string {
	return []string{
		"roles", "domains", "storagepools", "topologies", "regions", "tags", "resourcepools",
		"kms", "cleanroomtargets", "identityapps", "failovergroups", "recoverygroups", "vmpolicies",
	}
}
