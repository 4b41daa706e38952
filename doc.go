// Package sqlgate executes externally proposed SQL against heterogeneous SQL
// backends behind a safety policy, an approval gate, and an append-only audit
// trail.
//
// Statements are classified by keyword and pattern, never parsed into an AST,
// so one policy covers the whole provider matrix: PostgreSQL (including
// Supabase, Neon, and Amazon RDS) and MySQL (including PlanetScale). Provider
// differences (pooling, SSL requirements, retry behavior, connection-string
// quirks) live in per-provider profiles behind a single Client interface.
//
// # Library Usage
//
//	registry, err := sqlgate.NewRegistry(sqlgate.RegistryConfig{
//		ConnStrings: map[sqlgate.Identity]string{
//			sqlgate.ProviderPostgres: connString,
//		},
//		Provider: sqlgate.ProviderPostgres,
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	pipeline, err := sqlgate.NewPipeline(registry, store, sink, sqlgate.PipelineConfig{
//		ReadOnly: true,
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result := pipeline.Execute(ctx, sqlgate.ExecuteRequest{
//		ActorID: "tenant-1",
//		SQL:     "SELECT * FROM orders LIMIT 10",
//	})
//	switch result.Status {
//	case sqlgate.StatusSuccess:
//		// result.Rows
//	case sqlgate.StatusBlocked:
//		// result.Error, result.Suggestion
//	}
//
// Execute never returns a Go error: every outcome, including backend
// failures and timeouts, is an ExecuteResult with a Status tag, and every
// attempt that reaches validation produces at most one audit record.
//
// Or register the pipeline as MCP tools:
//
//	sqlgate.RegisterMCPTools(mcpServer, pipeline, logger)
package sqlgate
