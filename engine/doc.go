// Package engine wires the volley subsystems together from a configuration
// file: the fleet backends, the target source, the extension registry, the
// middleware chain, the controller and the HTTP API.
//
// The engine sits above every subsystem package and below the daemon
// binary, so none of the subsystems need to know about each other.
//
// # Building an Engine
//
//	f, err := volley.ReadFile("volley.yaml")
//	if err != nil { ... }
//
//	eng, err := engine.Build(f,
//	    engine.WithLogger(logger),
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
// # Running
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(func() error { return eng.Run(ctx) })
//	g.Go(func() error { return eng.WatchConfig(ctx, "volley.yaml") })
//
// # Backends
//
// fleet.backend selects the execution collaborator:
//
//   - "sim" runs an in-memory fleet and a simulated world whose targets
//     react to completed dispatches. The world is also the target source.
//   - "redis" uses the shared Redis ledger for dispatches and capacity.
//
// fleet.capacity set to "k8s" reads node capacity from the Kubernetes API
// instead of the execution backend.
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the tick chain
//   - [WithExecutor], [WithCapacity], [WithTargetSource]: replace a backend
//   - [WithTracerProvider], [WithMeterProvider]: set the OTel providers
package engine
