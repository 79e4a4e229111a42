/*
Package disk versions the swift devices of a storage node.

Every disk initialized as a ring device carries a stamp file named
"fingerprint" at its root:

	{"version":170000000000003,"fingerprint":"9f2c...","hostname":"storage-1",
	 "devicePrx":"sdb","deviceNum":2,"deviceCnt":3}

The version and fingerprint keys are a stable on-disk contract; disks stamped
by older releases must stay readable.

When a node (re)starts or is deployed, Versioning.Decide compares the
stamps against the generation the node must serve:

	all stamps share one version >= target
	    -> RemountDisks       (mount stamped disks, rebuild lost devices)
	anything else (no stamps, mixed versions, stale)
	    -> CreateSwiftDevices (format, stamp, mount every device)

Mixed versions recreate every device, not only the stale ones. A remount
never formats a disk that still carries a current stamp; device numbers
missing from the stamps are formatted onto spare disks only.

ExecHost is the production Host: it shells out to lsblk, mkfs.xfs, mount
and umount through a remote.Executor and reads the mount table with
github.com/moby/sys/mountinfo.
*/
package disk
