package kvstore

type serializer interface {
	serialize(rs *respSerializer)
}

type deserializer interface {
	deserialize(e *engine) error
}

type setCmd struct {
	ent *entry
	pos position
}

func (cmd *setCmd) serialize(rs *respSerializer) {
	cmd.pos = rs.serializeSetCommand(cmd.ent.Key, cmd.ent.Value)
}

func (cmd *setCmd) deserialize(e *engine) error {
	e.replaySetUnderLock(cmd.ent, cmd.pos)
	return nil
}

type deleteCmd struct {
	key Key
}

func (cmd *deleteCmd) serialize(rs *respSerializer) {
	rs.serializeDelCommand(cmd.key)
}

func (cmd *deleteCmd) deserialize(e *engine) error {
	// the log may legally contain a del for a key flushed earlier
	e.pks.Delete(&entry{Key: cmd.key})
	e.cache.Remove(cmd.key.String())
	return nil
}

type flushAllCmd struct{}

func (flushAllCmd) serialize(rs *respSerializer) {
	rs.serializeFlushAllCommand()
}

func (flushAllCmd) deserialize(e *engine) error {
	e.flushAllUnderLock()
	return nil
}
