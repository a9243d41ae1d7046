package config

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/atlanticdynamic/customjwt/internal/fancy"
)

const redacted = "********"

// String renders the configuration as a tree. Secrets are masked.
func (c *Config) String() string {
	t := fancy.Tree().Root(fancy.RootStyle.Render(fmt.Sprintf("customjwt config (%s)", c.Version)))
	t.Child(fancy.KeyValue("tenant", c.TenantID))

	log := fancy.BranchNode("Log", "")
	log.Child(
		fancy.KeyValue("level", c.Log.Level),
		fancy.KeyValue("format", c.Log.Format),
		fancy.KeyValue("output", c.Log.Output),
	)

	httpNode := fancy.BranchNode("HTTP", c.HTTP.Listen)
	httpNode.Child(
		fancy.KeyValue("read timeout", c.HTTP.ReadTimeout.String()),
		fancy.KeyValue("write timeout", c.HTTP.WriteTimeout.String()),
		fancy.KeyValue("drain timeout", c.HTTP.DrainTimeout.String()),
	)

	sb := fancy.BranchNode("Sandbox", "")
	sb.Child(
		fancy.KeyValue("deadline", c.Sandbox.Deadline.String()),
		fancy.KeyValue("fetch timeout", c.Sandbox.FetchTimeout.String()),
		fancy.KeyValue("max response bytes", strconv.FormatInt(c.Sandbox.MaxResponseBytes, 10)),
		fancy.KeyValue("user agent", c.Sandbox.UserAgent),
	)

	st := fancy.BranchNode("Store", "("+c.Store.Backend+")")
	if c.Store.SeedFile != "" {
		st.Child(fancy.KeyValue("seed", fancy.PathText(c.Store.SeedFile)))
	}
	if c.Store.RedisURL != "" {
		st.Child(fancy.KeyValue("redis", redactURL(c.Store.RedisURL)))
	}
	if c.Store.PostgresURL != "" {
		st.Child(fancy.KeyValue("postgres", redactURL(c.Store.PostgresURL)))
	}

	dep := fancy.BranchNode("Deploy", "("+c.Deploy.Mode+")")
	if c.Deploy.Endpoint != "" {
		dep.Child(fancy.KeyValue("endpoint", redactURL(c.Deploy.Endpoint)))
	}
	if c.Deploy.APIToken != "" {
		dep.Child(fancy.KeyValue("api token", redacted))
	}
	dep.Child(
		fancy.KeyValue("lock", fmt.Sprintf("%s (ttl %s)", c.Deploy.Lock, c.Deploy.LockTTL)),
		fancy.KeyValue("history", strconv.Itoa(c.Deploy.HistorySize)),
	)

	iss := fancy.BranchNode("Issuer", c.Issuer.Issuer)
	key := "generated"
	if c.Issuer.SigningKeyFile != "" {
		key = fancy.PathText(c.Issuer.SigningKeyFile)
	}
	policy := "fail closed"
	if c.Issuer.FailOpen {
		policy = fancy.WarnText("fail open")
	}
	iss.Child(
		fancy.KeyValue("signing key", key),
		fancy.KeyValue("ttl", c.Issuer.TTL.String()),
		fancy.KeyValue("customizer failure", policy),
	)

	mcp := "disabled"
	if c.MCP.Enabled {
		mcp = c.MCP.Path
	}

	t.Child(log, httpNode, sb, st, dep, iss, fancy.KeyValue("mcp", mcp))
	return t.String()
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}
