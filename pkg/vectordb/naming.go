package vectordb

// ChunkCollection names the vector collection holding chunk vectors
// for one logical collection.
func ChunkCollection(collectionID string) string {
	return "chunks_" + collectionID
}

// SummaryCollection names the sibling collection holding document
// summary vectors, used by hierarchical retrieval.
func SummaryCollection(collectionID string) string {
	return "summaries_" + collectionID
}
