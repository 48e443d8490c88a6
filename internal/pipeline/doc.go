// Package pipeline runs the ordered filter stages of a pipeline.
//
// A pipeline has two phases:
//   - Inlet (pre stages): runs on the request before the model sees it
//   - Outlet (post stages): runs on the completed exchange before the
//     client sees it
//
// Stages are sorted by order; lower runs first. The annotation stage
// takes its order from the filter priority. External stages are webhooks.
//
// # Webhook Contract
//
// Webhooks receive StageInput and must return StageOutput:
//
//	POST <webhook_url>
//	Content-Type: application/json
//
//	{
//	  "phase": "inlet" | "outlet",
//	  "inlet": { ... request body ... },    // inlet phase only
//	  "outlet": { ... exchange body ... },  // outlet phase only
//	  "user": { "id": "...", "valves": { ... } }
//	}
//
// Response:
//
//	{
//	  "action": "allow" | "mutate",
//	  "inlet": { ... },   // if mutating the request
//	  "outlet": { ... }   // if mutating the exchange
//	}
package pipeline
