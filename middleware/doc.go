// Package middleware provides compiler middlewares that rewrite function
// bodies before code generation.
//
// Metering charges gas per basic block and traps when it runs out. Deny
// rejects modules that use listed instructions. CallCounter records call
// sites per function for later inspection.
//
// Middlewares are added to an engine's chain in order:
//
//	eng, err := engine.New(engine.Config{
//		Middlewares: compiler.Chain{
//			middleware.DenyFloats(),
//			middleware.NewMetering(1_000_000, middleware.UniformCost(1)),
//		},
//	})
package middleware
