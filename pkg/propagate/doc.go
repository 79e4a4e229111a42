/*
Package propagate ships a metadata generation to fleet nodes over a
remote.Executor.

For each node, in order:

	mkdir -p <conf>
	tar -xzf - -C <conf>          (generation streamed as tar.gz on stdin)
	test -f <conf>/<file>         (once per file)
	chown -R swift:swift <conf>
	<apply command>               (optional)

The first failing step ends that node's attempt and is recorded in the
PropagationResult with its stage. The batch always moves on to the next
node; callers retry the failed subset with a targeted spread.
*/
package propagate
