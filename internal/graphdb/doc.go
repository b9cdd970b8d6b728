// Package graphdb is the entry point the rest of the application uses to
// talk to the graph database.
//
// A Container owns one connection pool and one transaction runner. Callers
// never check connections out by hand; they pass a function to
// WithConnection or WithTransaction and the Container guarantees the
// connection goes back to the pool on every exit path, panics included.
//
//	c, err := graphdb.New(ctx, factory, graphdb.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer c.Close(context.Background())
//
//	count, err := graphdb.WithConnectionResult(ctx, c, func(ctx context.Context, conn *pool.PooledConn) (int64, error) {
//	    res, err := conn.Execute(ctx, "SELECT COUNT(*) FROM nodes", nil)
//	    if err != nil {
//	        return 0, err
//	    }
//	    return res.Rows[0][0].(int64), nil
//	})
package graphdb
