// Package sqlstream moves rows from relational tables into an Amazon Kinesis
// data stream.
//
// Each configured table is polled on an interval. New rows, those whose
// update column is greater than the table's last checkpoint, are read in
// update-column order, tagged, buffered and delivered with PutRecords. The
// checkpoint of every table is kept in a YAML state file so a restarted
// process resumes where the previous one stopped.
//
// # Quick Start
//
//	source:
//	  adapter: postgresql
//	  host: localhost
//	  database: shop
//	  username: reader
//	  state_file: /var/lib/sqlstream/state.yml
//	  tag_prefix: shop
//	  tables:
//	    - table: orders
//	      update_column: updated_at
//	sink:
//	  stream_name: shop-events
//	  region: us-east-1
//	  partition_key: id
//
//	sqlstream run --config sqlstream.yml
//
// # Packages
//
//   - cmd/sqlstream: the command line interface
//   - internal/pipeline: wiring of poller, buffer and writer
//   - pkg/connector: the source and destination implementations
//   - pkg/watermark: checkpoint stores
//   - pkg/config, pkg/logger, pkg/errors, pkg/metrics, pkg/json: shared
//     infrastructure
package sqlstream
