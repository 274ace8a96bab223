package fat

import "github.com/netbootd/netbootd/errs"

// ClusterRegion is the cluster data region of a FAT volume: indexed by
// cluster number starting at 2, cluster k occupying byte range
// [(k-2)*cs, (k-1)*cs) of the underlying slice.
type ClusterRegion struct {
	data        []byte
	clusterSize int
}

func newClusterRegion(data []byte, clusterSize int) *ClusterRegion {
	return &ClusterRegion{data: data, clusterSize: clusterSize}
}

// ClusterSize returns the byte size of one cluster.
func (r *ClusterRegion) ClusterSize() int { return r.clusterSize }

// Cluster returns the byte window for cluster k. Clusters 0 and 1 are not
// addressable.
func (r *ClusterRegion) Cluster(k uint32) ([]byte, error) {
	if k < 2 {
		return nil, errs.Newf(errs.InvalidFormat, "cluster %d is reserved", k)
	}
	start := int(k-2) * r.clusterSize
	end := start + r.clusterSize
	if end > len(r.data) {
		return nil, errs.Newf(errs.InvalidFormat, "cluster %d out of range", k)
	}
	return r.data[start:end], nil
}
