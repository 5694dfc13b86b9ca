// Package utils holds input validation shared by the hub and the agent.
package utils
