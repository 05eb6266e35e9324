/*
Package client is a Go client for the BrainBox HTTP API, used by the CLI.

	c, err := client.NewClient("127.0.0.1:8080")
	if err != nil {
		return err
	}
	defer c.Close()

	ids, err := c.Submit(ctx, api.TaskRequest{Decider: "whisper", Method: "transcribe", Arguments: []any{"a.wav"}})
	job, err := c.GetJob(ctx, ids[0], 30*time.Second)

Failed requests return an *APIError carrying the HTTP status and the error
kind reported by the server. IsNotFound matches a 404.
*/
package client
