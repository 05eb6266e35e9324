// Package config loads the versioned YAML file that declares the server,
// store, runtime, scheduling policy and containerized deciders, and converts
// it into the settings of the packages that consume them.
//
//	version: 1
//	planner:
//	  policy: always-on
//	deciders:
//	  - name: whisper
//	    image: brainbox/whisper:latest
//	    container_port: 8000
//	    parameters: [small, large]
//	    keep_warm: [small]
//
// Keys missing from the file keep the values of Default. Unknown keys are
// rejected.
package config
