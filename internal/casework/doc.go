// Package casework provides the business boundary for Beacon's emergency
// case handling. It defines the domain models and lifecycle rules, the Store
// interface (persistence), the Engine (proximity grouping), and the Service
// (intake, grouping dispatch, lifecycle operations).
package casework
