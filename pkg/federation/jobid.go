package federation

// Federated job ids pack the origin cluster's federation id into the high
// bits of the job id:
//
//	Bits  0-25: local job id
//	Bits 26-31: cluster id
//
// This is a fixed wire contract shared by every cluster in a federation.

const clusterIDShift = 26

// MaxLocalJobID is the largest local job id that fits below the cluster
// id bits.
const MaxLocalJobID = 1<<clusterIDShift - 1

// ComposeJobID returns the globally-unique federated job id for a local
// job id originated on the given cluster. Behavior is undefined when
// localID exceeds MaxLocalJobID.
func ComposeJobID(localID, clusterID uint32) uint32 {
	return localID + clusterID<<clusterIDShift
}

// LocalJobID returns the local job id from a federated job id.
func LocalJobID(id uint32) uint32 {
	return id & MaxLocalJobID
}

// JobClusterID returns the origin cluster id from a federated job id.
func JobClusterID(id uint32) uint32 {
	return id >> clusterIDShift
}
