// Package tracker holds the domain model shared by the price engine: sites,
// products, observations, alerts, the cycle report, the error taxonomy, and
// the collaborator interfaces the engine is wired against.
package tracker
