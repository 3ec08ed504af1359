/*
Package eventbus provides the multi-tenant publish/subscribe broker built on
ordered persistent logs with consumer-group semantics. Every event crossing
the publish or consume boundary passes through the tenant isolation layer,
which gates, redacts, rate-limits, and audits it.
*/
package eventbus
