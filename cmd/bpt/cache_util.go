package main

import (
	"context"
	"log/slog"

	"github.com/bpt-pm/bpt/internal/crs/cache"
)

// cachePolicy translates the CLI's --repo-sync flag to the cache
// package's sync policy enum.
func cachePolicy(mode repoSyncMode) cache.Policy {
	switch mode {
	case repoSyncAlways:
		return cache.PolicyAlways
	case repoSyncNever:
		return cache.PolicyNever
	default:
		return cache.PolicyCachedOkay
	}
}

// openReadyCache opens the CRS cache at opts.CRSCacheDir, syncs and
// enables every -use-repo URL plus (unless -no-default-repo) the
// default repo, and returns the cache ready for ForPackage/Prefetch
// calls. This mirrors open_ready_cache/use_repo from the original CLI:
// each repo is synced under the chosen --repo-sync policy and then
// explicitly enabled so solver queries see it.
func openReadyCache(ctx context.Context, opts *commonOpts) (*cache.Cache, error) {
	c, err := cache.Open(ctx, opts.CRSCacheDir)
	if err != nil {
		return nil, err
	}

	urls := append([]string(nil), opts.UseRepos...)
	if !opts.NoDefaultRepo {
		urls = append(urls, DefaultRepoURL)
	}

	policy := cachePolicy(opts.RepoSync)
	for _, u := range urls {
		if err := c.Sync(ctx, u, policy); err != nil {
			c.Close()
			return nil, err
		}
		if err := c.EnableRemote(ctx, u); err != nil {
			slog.WarnContext(ctx, "repo synced but could not be enabled", "url", u, "error", err)
		}
	}
	return c, nil
}
