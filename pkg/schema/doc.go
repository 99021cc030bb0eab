// Package schema introspects user tables through a dbengine.Host and
// decides whether a table is a valid tracking candidate: it must carry
// an explicit primary key, must not collide with cloudsync's own meta
// object names, and its name must not contain the "*" wildcard (reserved
// to mean "every user table").
package schema
