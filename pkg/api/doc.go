/*
Package api exposes the orchestrator over HTTP.

The server is a plain net/http ServeMux using method and wildcard patterns.
Every route is wrapped with request logging and Prometheus instrumentation;
bus writes additionally pass a per-client token bucket.

# Routes

Session bus:

	POST /command/{session}/{type}     body: any JSON value     -> {"id": n}
	GET  /updates/{session}/{lastID}   ?wait=30s long polls      -> [{session, id, timestamp, type, payload}]
	GET  /heartbit                                              -> OK

Jobs:

	POST /tasks         {"tasks": [{id, decider, method, arguments, prerequisites, parameter, session, timeout}]}
	                    -> 202 {"job_ids": [...]}
	GET  /jobs          every job, oldest first
	GET  /jobs/{id}     ?wait=30s returns once the job is terminal or the wait elapsed

Deciders:

	GET  /deciders                  installation status and instances
	POST /deciders/{name}/install   clears a recorded failure and installs again

Health:

	GET /health  /ready  /live  /metrics

# Errors

Failed requests return {"error": "...", "kind": "..."}. Malformed task
graphs, configuration errors and unknown deciders map to 400, missing jobs
to 404, a stopped runner to 503 and rate limited bus writes to 429. A failed
install answers 502 with the decider's recorded status.

Long polls are capped by Config.MaxWait (5 minutes by default). An elapsed
wait is not an error: /updates returns an empty list and /jobs/{id} returns
the job as it currently is.
*/
package api
